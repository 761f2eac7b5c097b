// Package gqlpool is a gateway that serves a small GraphQL-like query and
// mutation language on top of a relational database.
//
// Requests arrive as length-prefixed frames on a TCP socket (package wire),
// over HTTP and WebSocket (frontend/httpfe), over NATS request/reply
// (frontend/natsfe), or in-process through the Gateway API (package gateway).
// A single reactor goroutine (package pool) hands each request to one of its
// connections, where it is parsed (package parser), translated to SQL
// (package translate) and run against the store (package backend).
//
//	{ Human (id: 1000) { name friends { name } } }
//
// answers with
//
//	{"Human":{"name":"Luke","friends":[{"name":"Leia"},{"name":"Han"}]}}
//
// The gqlpool command in cmd/gqlpool runs the gateway from a configuration
// file (package config); cmd/gqlpool-cli sends one-off requests.
package gqlpool
