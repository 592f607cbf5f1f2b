// Package docs holds the generated-style swagger spec for the diagnostics
// API. It plays the role swag init would normally produce from the
// @Summary/@Router annotations in service.go; it is hand-maintained here in
// lockstep with those annotations instead of being regenerated.
package docs

import "github.com/swaggo/swag"

const template = `{
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
        "/healthz": {
            "get": {
                "produces": ["application/json"],
                "tags": ["diagnostics"],
                "summary": "Report process and connection health",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/peers": {
            "get": {
                "produces": ["application/json"],
                "tags": ["diagnostics"],
                "summary": "List established connections and known peer registry entries",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/bans": {
            "get": {
                "produces": ["application/json"],
                "tags": ["diagnostics"],
                "summary": "List currently banned hosts",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        }
    }
}`

// SwaggerInfo holds exported swagger metadata that service.go overwrites
// with the live host/basePath before registering.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "NodeCore Diagnostics API",
	Description:      "Read-only diagnostics surface for the p2p server core.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  template,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}
