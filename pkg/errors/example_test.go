package errors_test

import (
	"fmt"
	"io"

	"github.com/ajitpratap0/strata/pkg/errors"
)

// Example demonstrates basic error creation with details.
func Example() {
	err := errors.New(errors.ErrorTypeTypeMismatch, "column type mismatch").
		WithDetail("column", "age").
		WithDetail("required", "UInt32").
		WithDetail("actual", "UInt8")

	fmt.Println(err.Error())
	required, _ := err.Detail("required")
	fmt.Println(required)

	// Output:
	// type_mismatch: column type mismatch
	// UInt32
}

// ExampleWrap shows how to wrap existing errors with context.
func ExampleWrap() {
	err := errors.Wrap(io.ErrUnexpectedEOF, errors.ErrorTypeFile, "failed to read column file").
		WithDetail("file", "data_age.bin")

	if errors.IsType(err, errors.ErrorTypeFile) {
		fmt.Println("This is a file error")
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		fmt.Println("Cause is preserved")
	}

	// Output:
	// This is a file error
	// Cause is preserved
}

// ExampleTypeOf demonstrates branching on the failure kind.
func ExampleTypeOf() {
	errs := []error{
		errors.New(errors.ErrorTypeNotFound, "column not found"),
		errors.New(errors.ErrorTypeOutOfBounds, "range exceeds mapping"),
		errors.New(errors.ErrorTypeMissingNullMask, "column has no null mask"),
		errors.New(errors.ErrorTypeLayout, "length is not a multiple of width"),
		io.EOF,
	}

	for _, err := range errs {
		fmt.Printf("%q\n", errors.TypeOf(err))
	}

	// Output:
	// "not_found"
	// "out_of_bounds"
	// "missing_null_mask"
	// "layout"
	// ""
}

// ExampleIsRetryable shows which failures are worth retrying.
func ExampleIsRetryable() {
	fmt.Println(errors.IsRetryable(errors.New(errors.ErrorTypeConnection, "bucket unreachable")))
	fmt.Println(errors.IsRetryable(errors.New(errors.ErrorTypeFile, "mmap failed")))
	fmt.Println(errors.IsRetryable(io.EOF))

	// Output:
	// true
	// false
	// false
}
