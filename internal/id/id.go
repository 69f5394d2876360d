// Package id provides nanoid-based ID generation with entity prefixes.
package id

import (
	nanoid "github.com/matoous/go-nanoid/v2"
)

const DefaultLength = 21

const (
	PrefixUser         = "usr"
	PrefixConversation = "conv"
	PrefixMessage      = "msg"
	PrefixProvider     = "prov"
	PrefixPreset       = "pre"
	PrefixMCPServer    = "mcp"
	PrefixRefreshToken = "rt"
	PrefixShare        = "share"
)

func New(prefix string) string {
	id, err := nanoid.New(DefaultLength)
	if err != nil {
		panic("nanoid generation failed: " + err.Error())
	}
	return prefix + "_" + id
}

func NewUser() string         { return New(PrefixUser) }
func NewConversation() string { return New(PrefixConversation) }
func NewMessage() string      { return New(PrefixMessage) }
func NewProvider() string     { return New(PrefixProvider) }
func NewPreset() string       { return New(PrefixPreset) }
func NewMCPServer() string    { return New(PrefixMCPServer) }
func NewRefreshToken() string { return New(PrefixRefreshToken) }

// NewShareToken returns a longer token for public share links.
func NewShareToken() string {
	id, err := nanoid.New(32)
	if err != nil {
		panic("nanoid generation failed: " + err.Error())
	}
	return PrefixShare + "_" + id
}
