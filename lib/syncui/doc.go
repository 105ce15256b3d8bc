// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package syncui renders a sync session in the terminal.
//
// [Feed] is an [assetsync.Observer] that hands events to a bubbletea
// program; [Model] draws a progress bar, the most recent log records,
// and the session's final outcome. Pressing q cancels the session and
// the model keeps drawing until the engine reports the cancellation;
// a second press exits immediately.
package syncui
