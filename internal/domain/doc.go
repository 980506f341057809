// Package domain contains core domain types for the docchat client.
package domain
