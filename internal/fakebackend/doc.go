// Package fakebackend serves a minimal token backend for tests, the load
// generator and the example client: POST /auth/refresh rotates refresh tokens
// and GET /api/me accepts fresh HS256 access tokens.
package fakebackend
