// Package errors_test exercises the AppError type, factory functions and
// error-chain helpers defined in pkg/errors/errors.go.
package errors_test

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/LeafSight/pkg/errors"
)

// ─────────────────────────────────────────────────────────────────────────────
// New / Newf
// ─────────────────────────────────────────────────────────────────────────────

func TestNew_FieldsAreSetCorrectly(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		code    errors.ErrorCode
		message string
	}{
		{"internal error", errors.ErrCodeInternal, "unexpected failure"},
		{"image decode", errors.ErrCodeImageDecode, "not a PNG/JPEG/GIF image"},
		{"invalid param", errors.ErrCodeBadRequest, "crop_type must be text"},
		{"rate limit", errors.ErrCodeTooManyRequests, "too many requests"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ae := errors.New(tc.code, tc.message)

			require.NotNil(t, ae)
			assert.Equal(t, tc.code, ae.Code)
			assert.Equal(t, tc.message, ae.Message)
			assert.Empty(t, ae.Detail)
			assert.Nil(t, ae.Cause)
		})
	}
}

func TestNew_StackIsPopulated(t *testing.T) {
	t.Parallel()

	ae := errors.New(errors.ErrCodeInternal, "test")
	require.NotNil(t, ae)
	assert.Contains(t, ae.Stack, "errors_test.go")
}

func TestNewf_FormatsMessage(t *testing.T) {
	t.Parallel()

	ae := errors.Newf(errors.ErrCodeAnalysisFailed, "raster %dx%d is degenerate", 0, 12)
	assert.Equal(t, "raster 0x12 is degenerate", ae.Message)
	assert.Equal(t, errors.ErrCodeAnalysisFailed, ae.Code)
}

// ─────────────────────────────────────────────────────────────────────────────
// Wrap
// ─────────────────────────────────────────────────────────────────────────────

func TestWrap_NilErrReturnsNil(t *testing.T) {
	t.Parallel()

	assert.Nil(t, errors.Wrap(nil, errors.ErrCodeInternal, "should not matter"))
}

func TestWrap_CauseChainIsPreserved(t *testing.T) {
	t.Parallel()

	root := stderrors.New("dial tcp: connection refused")
	wrapped := errors.Wrap(root, errors.ErrCodeStorageError, "archive failed")

	require.NotNil(t, wrapped)
	assert.Equal(t, errors.ErrCodeStorageError, wrapped.Code)
	assert.Equal(t, "archive failed", wrapped.Message)
	assert.Equal(t, root, wrapped.Cause)
	assert.Equal(t, root, stderrors.Unwrap(wrapped))
}

func TestWrap_PreservesOriginalCodeWhenCodeUnknown(t *testing.T) {
	t.Parallel()

	inner := errors.New(errors.ErrCodeImageDecode, "corrupt jpeg")
	outer := errors.Wrap(inner, errors.CodeUnknown, "adding context")

	require.NotNil(t, outer)
	assert.Equal(t, errors.ErrCodeImageDecode, outer.Code)
}

func TestWrap_OverridesCodeWhenExplicit(t *testing.T) {
	t.Parallel()

	inner := errors.New(errors.ErrCodeImageDecode, "corrupt jpeg")
	outer := errors.Wrap(inner, errors.ErrCodeInternal, "unexpected state")

	assert.Equal(t, errors.ErrCodeInternal, outer.Code)
}

// ─────────────────────────────────────────────────────────────────────────────
// Error()
// ─────────────────────────────────────────────────────────────────────────────

func TestError_FormatWithoutDetail(t *testing.T) {
	t.Parallel()

	s := errors.New(errors.ErrCodeDiagnosisNotFound, "diagnosis not found").Error()

	assert.Equal(t, "[LEAF_004] diagnosis not found", s)
	assert.False(t, strings.Contains(s, ": "))
}

func TestError_FormatWithDetail(t *testing.T) {
	t.Parallel()

	s := errors.New(errors.ErrCodeImageUnsupported, "unsupported image type").
		WithDetail("ext=.svg").Error()

	assert.Equal(t, "[LEAF_002] unsupported image type: ext=.svg", s)
}

// ─────────────────────────────────────────────────────────────────────────────
// WithDetail / WithCause
// ─────────────────────────────────────────────────────────────────────────────

func TestWithDetail_SetsDetailOnCopy(t *testing.T) {
	t.Parallel()

	original := errors.New(errors.ErrCodeNotFound, "resource missing")
	detailed := original.WithDetail("id=42")

	assert.Empty(t, original.Detail)
	assert.Equal(t, "id=42", detailed.Detail)
	assert.Equal(t, original.Code, detailed.Code)
}

func TestWithDetail_NilReceiverReturnsNil(t *testing.T) {
	t.Parallel()

	var ae *errors.AppError
	assert.Nil(t, ae.WithDetail("x"))
	assert.Nil(t, ae.WithCause(stderrors.New("x")))
}

func TestWithCause_DoesNotMutateOriginal(t *testing.T) {
	t.Parallel()

	original := errors.New(errors.ErrCodeInternal, "failure")
	cause := stderrors.New("cause")
	withCause := original.WithCause(cause)

	assert.Nil(t, original.Cause)
	assert.Equal(t, cause, withCause.Cause)
	assert.True(t, stderrors.Is(withCause, cause))
}

// ─────────────────────────────────────────────────────────────────────────────
// IsCode / IsNotFound / GetCode
// ─────────────────────────────────────────────────────────────────────────────

func TestIsCode_NestedChain(t *testing.T) {
	t.Parallel()

	level0 := errors.New(errors.ErrCodeImageDecode, "bad header")
	level1 := errors.Wrap(level0, errors.ErrCodeBadRequest, "validation failed")
	level2 := fmt.Errorf("handler: %w", errors.Wrap(level1, errors.ErrCodeInternal, "handler error"))

	assert.True(t, errors.IsCode(level2, errors.ErrCodeImageDecode))
	assert.True(t, errors.IsCode(level2, errors.ErrCodeBadRequest))
	assert.True(t, errors.IsCode(level2, errors.ErrCodeInternal))
	assert.False(t, errors.IsCode(level2, errors.ErrCodeTooManyRequests))
}

func TestIsCode_NilAndStdlib(t *testing.T) {
	t.Parallel()

	assert.False(t, errors.IsCode(nil, errors.ErrCodeInternal))
	assert.False(t, errors.IsCode(stderrors.New("plain"), errors.ErrCodeInternal))
}

func TestIsNotFound(t *testing.T) {
	t.Parallel()

	assert.True(t, errors.IsNotFound(errors.NotFound("x")))
	assert.True(t, errors.IsNotFound(fmt.Errorf("wrap: %w", errors.New(errors.ErrCodeDiagnosisNotFound, "gone"))))
	assert.False(t, errors.IsNotFound(errors.Internal("x")))
	assert.False(t, errors.IsNotFound(nil))
}

func TestGetCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, errors.CodeOK, errors.GetCode(nil))
	assert.Equal(t, errors.CodeUnknown, errors.GetCode(stderrors.New("stdlib")))
	assert.Equal(t, errors.CodeUnknown, errors.GetCode(fmt.Errorf("ctx: %w", stderrors.New("cause"))))

	inner := errors.New(errors.ErrCodeAnalysisFailed, "degenerate raster")
	outer := errors.Wrap(inner, errors.ErrCodeInternal, "service failed")
	assert.Equal(t, errors.ErrCodeInternal, errors.GetCode(outer))
}

func TestConvenienceFactories_ReturnCorrectCode(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		err      *errors.AppError
		wantCode errors.ErrorCode
	}{
		{"NotFound", errors.NotFound("not found"), errors.ErrCodeNotFound},
		{"InvalidParam", errors.InvalidParam("bad input"), errors.ErrCodeBadRequest},
		{"Internal", errors.Internal("server error"), errors.ErrCodeInternal},
		{"RateLimit", errors.RateLimit("slow down"), errors.ErrCodeTooManyRequests},
		{"PayloadTooLarge", errors.PayloadTooLarge("16MB max"), errors.ErrCodePayloadTooLarge},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			require.NotNil(t, tc.err)
			assert.Equal(t, tc.wantCode, tc.err.Code)
			assert.NotEmpty(t, tc.err.Error())
		})
	}
}

func TestStdlib_ErrorsAs_ExtractsAppError(t *testing.T) {
	t.Parallel()

	original := errors.New(errors.ErrCodeAnalysisFailed, "empty raster")
	wrapped := fmt.Errorf("inference: %w", original)

	var ae *errors.AppError
	require.True(t, stderrors.As(wrapped, &ae))
	assert.Equal(t, errors.ErrCodeAnalysisFailed, ae.Code)
}
