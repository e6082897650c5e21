// Copyright (c) 2025-2026 Asepal / SinoSEA
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small shared helpers for the SinoSEA client:
// atomic file persistence and string truncation.
package util
