// Package api exposes the wallet operations over a small REST surface for
// front-end collaborators. It performs no intent parsing: every route maps
// onto exactly one typed wallet operation.
package api
