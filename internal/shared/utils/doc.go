// Package utils holds small helpers shared by the API edge and the sandbox
// bootstrap: source validation and SHA-256 hashing.
package utils
