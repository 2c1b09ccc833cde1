// Package docs registers the OpenAPI document served at /swagger/doc.json.
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
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "paths": {
        "/agreements/create": {
            "post": {
                "summary": "Create an agreement and mirror it on chain",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"in": "header", "name": "Idempotency-Key", "type": "string"},
                    {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/createRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/createResponse"}},
                    "400": {"description": "Invalid terms", "schema": {"$ref": "#/definitions/errorResponse"}},
                    "401": {"description": "Session expired", "schema": {"$ref": "#/definitions/errorResponse"}},
                    "500": {"description": "Chain call failed", "schema": {"$ref": "#/definitions/errorResponse"}}
                }
            }
        },
        "/agreements/{id}": {
            "get": {
                "summary": "Get an agreement",
                "security": [{"BearerAuth": []}],
                "parameters": [{"in": "path", "name": "id", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/agreement"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/errorResponse"}}
                }
            }
        },
        "/agreements/{id}/accept": {"post": {"summary": "Accept as counterparty", "security": [{"BearerAuth": []}], "parameters": [{"in": "path", "name": "id", "required": true, "type": "string"}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/agreement"}}}}},
        "/agreements/{id}/fund": {"post": {"summary": "Fund the escrow", "security": [{"BearerAuth": []}], "parameters": [{"in": "path", "name": "id", "required": true, "type": "string"}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/txResponse"}}}}},
        "/agreements/{id}/complete": {"post": {"summary": "Complete the agreement", "security": [{"BearerAuth": []}], "parameters": [{"in": "path", "name": "id", "required": true, "type": "string"}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/txResponse"}}}}},
        "/agreements/{id}/pay-rent": {"post": {"summary": "Pay one rent installment", "security": [{"BearerAuth": []}], "parameters": [{"in": "path", "name": "id", "required": true, "type": "string"}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/txResponse"}}}}},
        "/agreements/{id}/pay-subscription": {"post": {"summary": "Pay the current subscription period", "security": [{"BearerAuth": []}], "parameters": [{"in": "path", "name": "id", "required": true, "type": "string"}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/txResponse"}}}}},
        "/agreements/{id}/cancel-subscription": {"post": {"summary": "Cancel a subscription", "security": [{"BearerAuth": []}], "parameters": [{"in": "path", "name": "id", "required": true, "type": "string"}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/txResponse"}}}}},
        "/agreements/{id}/dispute": {"post": {"summary": "Raise a dispute", "security": [{"BearerAuth": []}], "parameters": [{"in": "path", "name": "id", "required": true, "type": "string"}, {"in": "body", "name": "body", "schema": {"type": "object", "properties": {"reason": {"type": "string"}}}}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/txResponse"}}}}},
        "/agreements/{id}/timeline": {"get": {"summary": "Business events of an agreement", "security": [{"BearerAuth": []}], "parameters": [{"in": "path", "name": "id", "required": true, "type": "string"}], "responses": {"200": {"description": "OK"}}}},
        "/agreements/{id}/disputes": {"get": {"summary": "Dispute records of an agreement", "security": [{"BearerAuth": []}], "parameters": [{"in": "path", "name": "id", "required": true, "type": "string"}], "responses": {"200": {"description": "OK"}}}},
        "/agreements/{id}/payment-qr": {"get": {"summary": "EIP-681 QR code for the next payment", "produces": ["image/png"], "security": [{"BearerAuth": []}], "parameters": [{"in": "path", "name": "id", "required": true, "type": "string"}], "responses": {"200": {"description": "PNG"}}}},
        "/agreements/user/{id}": {"get": {"summary": "Agreements a party takes part in", "security": [{"BearerAuth": []}], "parameters": [{"in": "path", "name": "id", "required": true, "type": "string"}, {"in": "query", "name": "page", "type": "integer"}, {"in": "query", "name": "pageSize", "type": "integer"}], "responses": {"200": {"description": "OK"}}}}
    },
    "definitions": {
        "createRequest": {
            "type": "object",
            "required": ["type", "title", "counterpartyId", "amount", "startDate", "dueDate"],
            "properties": {
                "type": {"type": "string", "enum": ["Software Freelancing", "Rental Agreement", "Subscription Agreement"]},
                "title": {"type": "string"},
                "terms": {"type": "string"},
                "counterpartyId": {"type": "string"},
                "amount": {"type": "string", "example": "0.5"},
                "startDate": {"type": "string", "format": "date-time"},
                "dueDate": {"type": "string", "format": "date-time"},
                "deliverables": {"type": "string"},
                "milestones": {"type": "string"},
                "propertyAddress": {"type": "string"},
                "securityDeposit": {"type": "string"},
                "subscriptionDetails": {"type": "string"},
                "billingInterval": {"type": "integer", "description": "seconds"}
            }
        },
        "createResponse": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "blockchainId": {"type": "string"},
                "txHash": {"type": "string"},
                "reconciliation": {"type": "object"}
            }
        },
        "txResponse": {
            "type": "object",
            "properties": {
                "txHash": {"type": "string"},
                "status": {"type": "string"},
                "nextBillingDate": {"type": "string", "format": "date-time"}
            }
        },
        "agreement": {"type": "object"},
        "errorResponse": {
            "type": "object",
            "properties": {
                "request_id": {"type": "string"},
                "error": {"type": "object", "properties": {"code": {"type": "string"}, "message": {"type": "string"}, "details": {"type": "object"}}}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "pactflow API",
	Description:      "Agreement lifecycle service mirroring freelance, rental and subscription agreements on chain.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
