// Package crypto encrypts the tokens kept in the configuration file.
//
// AES-256-GCM when TOKEN_ENCRYPTION_KEY is set, plaintext passthrough otherwise.
package crypto
