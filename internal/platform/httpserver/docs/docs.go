// Package docs provides the swagger specification served at /swagger/.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/polls": {
            "get": {
                "summary": "List polls",
                "parameters": [
                    {"name": "status", "in": "query", "type": "string", "enum": ["active", "ended", "all"]},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {"200": {"description": "OK"}}
            },
            "post": {
                "summary": "Create a poll",
                "parameters": [
                    {"name": "X-User-Id", "in": "header", "type": "string", "required": true},
                    {"name": "Idempotency-Key", "in": "header", "type": "string", "required": true},
                    {"name": "body", "in": "body", "required": true, "schema": {"type": "object"}}
                ],
                "responses": {
                    "201": {"description": "Created"},
                    "400": {"description": "Invalid input or ledger rejection"},
                    "409": {"description": "Idempotency conflict or operation in flight"},
                    "503": {"description": "Ledger unavailable"}
                }
            }
        },
        "/polls/{poll_id}": {
            "get": {
                "summary": "Get one poll with tallies and percentages",
                "parameters": [
                    {"name": "poll_id", "in": "path", "type": "string", "required": true},
                    {"name": "X-User-Id", "in": "header", "type": "string"}
                ],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not found"}}
            }
        },
        "/polls/{poll_id}/vote": {
            "post": {
                "summary": "Cast a vote",
                "parameters": [
                    {"name": "poll_id", "in": "path", "type": "string", "required": true},
                    {"name": "X-User-Id", "in": "header", "type": "string", "required": true},
                    {"name": "X-Wallet-Address", "in": "header", "type": "string", "required": true},
                    {"name": "body", "in": "body", "required": true, "schema": {"type": "object"}}
                ],
                "responses": {
                    "200": {"description": "Vote recorded or replayed"},
                    "400": {"description": "Invalid option, poll ended, or already voted"},
                    "404": {"description": "Poll not found"},
                    "503": {"description": "Ledger unavailable"}
                }
            }
        },
        "/polls/user": {
            "get": {
                "summary": "List polls created by the caller",
                "parameters": [{"name": "X-User-Id", "in": "header", "type": "string", "required": true}],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/users/votes": {
            "get": {
                "summary": "Voting history for the caller",
                "parameters": [{"name": "X-User-Id", "in": "header", "type": "string", "required": true}],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/healthz": {
            "get": {
                "summary": "Liveness probe",
                "responses": {"200": {"description": "OK"}}
            }
        }
    }
}`

var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Agora Poll Engine API",
	Description:      "Ledger-backed polls with idempotent writes and reconciled local reads.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
