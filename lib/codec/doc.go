// Copyright 2026 The Taskfleet Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec centralizes CBOR encoding configuration for the status
// socket protocol.
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2) so the
// same logical value always produces identical bytes. Decoding accepts
// standard CBOR and ignores unknown fields for forward compatibility.
//
// Consumers use [Marshal], [Unmarshal], [NewEncoder], and [NewDecoder]
// instead of importing the CBOR library directly, keeping the encoder
// configuration in one place.
package codec
