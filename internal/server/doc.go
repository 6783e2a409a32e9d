// Package server hosts the Fiber HTTP service: the middleware chain (recover,
// CORS, request id, Host lookup), the endpoint registry that maps each Host to
// its upstream configuration, and the shared upstream http.Client. Response
// production is delegated to an EndpointHandler so the caching layer stays
// outside this package.
package server
