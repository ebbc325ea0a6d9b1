// Package model defines the provider‑agnostic abstractions and concrete
// helpers for interacting with language models inside SupportMesh.
//
// Core goals:
//   - Unify streaming and non‑streaming generation behind a single interface
//   - Normalize tool / function call representation (ToolDefinition, ToolCall)
//   - Keep request/response shapes minimal and transport independent
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (OpenAI, Anthropic) implement Model in sub-packages so agents
// backed by an LLM stay decoupled from vendor SDKs.
package model
