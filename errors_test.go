// Copyright (c) 2023-2025 RapidaAI
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package voicecore

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rapidaai/voicecore/internal/signalling"
)

func TestCodeIsResumable(t *testing.T) {
	cases := []struct {
		code      int
		resumable bool
	}{
		{1000, false},
		{4014, false},
		{4015, false},
		{1001, true},
		{4006, true},
		{4009, true},
		{0, true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.resumable, codeIsResumable(tc.code), "code %d", tc.code)
	}
}

func TestClassifyCloseCode(t *testing.T) {
	terminal := classifyCloseCode(1000)
	assert.Equal(t, KindConnectionClosed, terminal.Kind)
	assert.Equal(t, 1000, terminal.Code)

	resumable := classifyCloseCode(4006)
	assert.Equal(t, KindReconnect, resumable.Kind)
	assert.Equal(t, 4006, resumable.Code)
}

func TestClassify_CloseErrorMapsToTaxonomy(t *testing.T) {
	closeErr := &signalling.CloseError{Code: 4014}
	classified := classify(closeErr)
	assert.Equal(t, KindConnectionClosed, classified.Kind)
	assert.Equal(t, 4014, classified.Code)
}

func TestClassify_FmtWrappedCloseErrorStillMapsToTaxonomy(t *testing.T) {
	inner := &signalling.CloseError{Code: 4006}
	wrapped := fmt.Errorf("poll: %w", inner)
	classified := classify(wrapped)
	assert.Equal(t, KindReconnect, classified.Kind)
	assert.Equal(t, 4006, classified.Code)
}

func TestClassify_OtherErrorIsConnectionError(t *testing.T) {
	cause := errors.New("boom")
	classified := classify(cause)
	assert.Equal(t, KindConnectionError, classified.Kind)
	assert.ErrorIs(t, classified, cause)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "reconnect", KindReconnect.String())
	assert.Equal(t, "connection_closed", KindConnectionClosed.String())
	assert.Equal(t, "connection_error", KindConnectionError.String())
}
