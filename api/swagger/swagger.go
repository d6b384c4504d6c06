package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "SMA Live Attendance API",
        "description": "Live attendance session coordinator",
        "version": "0.1.0"
    },
    "basePath": "/",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Attendance", "description": "Attendance sessions, check-ins and summaries"}
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/ready": {
            "get": {
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "Ready"},
                    "503": {"description": "Degraded"}
                }
            }
        },
        "/attendance/check-in": {
            "post": {
                "tags": ["Attendance"],
                "summary": "Record the caller as present",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CheckInRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Not enrolled"},
                    "409": {"description": "Session not active"}
                }
            }
        },
        "/classes/{id}/attendance/{type}/start": {
            "post": {
                "tags": ["Attendance"],
                "summary": "Start an attendance session",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "type", "in": "path", "required": true, "type": "string", "enum": ["lecture", "lab"]}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Already active"}
                }
            }
        },
        "/classes/{id}/attendance/{type}/end": {
            "post": {
                "tags": ["Attendance"],
                "summary": "End an attendance session",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "type", "in": "path", "required": true, "type": "string", "enum": ["lecture", "lab"]}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Not active"}
                }
            }
        },
        "/classes/{id}/attendance": {
            "get": {
                "tags": ["Attendance"],
                "summary": "Attendance view for one class day",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "date", "in": "query", "type": "string"},
                    {"name": "type", "in": "query", "type": "string", "enum": ["lecture", "lab"]}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/classes/{id}/attendance/export": {
            "get": {
                "tags": ["Attendance"],
                "summary": "Download the day's attendance sheet",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "date", "in": "query", "type": "string"},
                    {"name": "type", "in": "query", "type": "string", "enum": ["lecture", "lab"]},
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]}
                ],
                "responses": {
                    "200": {"description": "Attendance sheet"}
                }
            }
        },
        "/classes/{id}/attendance/days": {
            "get": {
                "tags": ["Attendance"],
                "summary": "List days with attendance documents",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/classes/{id}/frequency": {
            "get": {
                "tags": ["Attendance"],
                "summary": "Read the class frequency token",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Attendance"],
                "summary": "Issue the class frequency token",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SetFrequencyRequest"}}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        }
    },
    "definitions": {
        "AttendanceRecord": {
            "type": "object",
            "properties": {
                "participant_id": {"type": "string"},
                "outcome": {"type": "string", "enum": ["present", "absent"]},
                "recorded_by": {"type": "string"},
                "recorded_at": {"type": "string"}
            }
        },
        "SubSession": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "enum": ["inactive", "active", "completed"]},
                "records": {
                    "type": "array",
                    "items": {"$ref": "#/definitions/AttendanceRecord"}
                }
            }
        },
        "DaySummary": {
            "type": "object",
            "properties": {
                "class_id": {"type": "string"},
                "day": {"type": "string"},
                "session_type": {"type": "string"},
                "exists": {"type": "boolean"},
                "status": {"type": "string"},
                "present_count": {"type": "integer"},
                "records": {
                    "type": "array",
                    "items": {"$ref": "#/definitions/AttendanceRecord"}
                }
            }
        },
        "CheckInRequest": {
            "type": "object",
            "properties": {
                "class_id": {"type": "string"},
                "session_type": {"type": "string", "enum": ["lecture", "lab"]},
                "detected_frequency": {"type": "number"},
                "face_descriptor": {
                    "type": "array",
                    "items": {"type": "number"}
                }
            },
            "required": ["class_id", "session_type"]
        },
        "SetFrequencyRequest": {
            "type": "object",
            "properties": {
                "frequency": {
                    "type": "array",
                    "items": {"type": "number"}
                }
            },
            "required": ["frequency"]
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"},
                "details": {"type": "object"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
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
