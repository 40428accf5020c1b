package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Signage API",
        "description": "Announcement lifecycle and approval orchestration for digital signage",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Announcements", "description": "Announcement lifecycle"},
        {"name": "Requests", "description": "Change requests and dual approval"}
    ],
    "paths": {
        "/announcements": {
            "get": {
                "tags": ["Announcements"],
                "summary": "List announcements",
                "parameters": [
                    {"name": "status", "in": "query", "type": "string", "description": "Comma separated statuses"},
                    {"name": "created_by", "in": "query", "type": "string"},
                    {"name": "device_id", "in": "query", "type": "string"},
                    {"name": "q", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "page_size", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Announcements"],
                "summary": "Create announcement",
                "description": "Creates the announcement in WAITING_FOR_APPROVAL and opens its implicit CREATE approval request.",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateAnnouncementRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Unknown device id"}
                }
            }
        },
        "/announcements/{id}": {
            "get": {
                "tags": ["Announcements"],
                "summary": "Get announcement detail",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found"}
                }
            }
        },
        "/requests": {
            "get": {
                "tags": ["Requests"],
                "summary": "List change requests",
                "parameters": [
                    {"name": "announcement_id", "in": "query", "type": "string"},
                    {"name": "requested_by", "in": "query", "type": "string"},
                    {"name": "action", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "page_size", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Requests"],
                "summary": "Submit change request",
                "description": "Opens an EXTEND_DATE, DELETE or CHANGE_DEVICES request against an announcement.",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateRequestRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Announcement status does not allow the action"}
                }
            }
        },
        "/requests/{id}": {
            "get": {
                "tags": ["Requests"],
                "summary": "Get change request detail",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found"}
                }
            }
        },
        "/requests/{id}/approval": {
            "post": {
                "tags": ["Requests"],
                "summary": "Approve or reject change request",
                "description": "Records the caller's approval slot. Admins fill both empty slots at once.",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/DecideRequestRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Caller may not approve"},
                    "409": {"description": "Slot already decided"}
                }
            }
        }
    },
    "definitions": {
        "CreateAnnouncementRequest": {
            "type": "object",
            "required": ["title", "media", "media_type", "start_date", "end_date", "device_ids"],
            "properties": {
                "title": {"type": "string"},
                "media": {"type": "string"},
                "media_type": {"type": "string"},
                "media_duration_seconds": {"type": "number"},
                "notes": {"type": "string"},
                "start_date": {"type": "string", "format": "date-time"},
                "end_date": {"type": "string", "format": "date-time"},
                "device_ids": {"type": "array", "items": {"type": "string"}}
            }
        },
        "CreateRequestRequest": {
            "type": "object",
            "required": ["action", "announcement_id"],
            "properties": {
                "action": {"type": "string", "enum": ["EXTEND_DATE", "DELETE", "CHANGE_DEVICES"]},
                "announcement_id": {"type": "string"},
                "description": {"type": "string"},
                "extended_end_date": {"type": "string", "format": "date-time"},
                "new_device_ids": {"type": "array", "items": {"type": "string"}}
            }
        },
        "DecideRequestRequest": {
            "type": "object",
            "required": ["approve"],
            "properties": {
                "approve": {"type": "boolean"}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
