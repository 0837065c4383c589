package io

import (
	"errors"
	"fmt"
)

// ErrEmptyFile is returned when a load or a filter leaves no usable data rows.
// Its text is shown to the uploader as is.
var ErrEmptyFile = errors.New("В загруженном файле нет данных")

// ErrSheetNotFound matches any SheetNotFoundError via errors.Is.
var ErrSheetNotFound = errors.New("sheet not found")

// SheetNotFoundError reports a requested sheet missing from the workbook. The
// message is shown to the uploader.
type SheetNotFoundError struct {
	Sheet string
}

func (e *SheetNotFoundError) Error() string {
	return fmt.Sprintf("В форме отсутствует лист %s", e.Sheet)
}

// Is lets errors.Is(err, ErrSheetNotFound) match.
func (e *SheetNotFoundError) Is(target error) bool {
	return target == ErrSheetNotFound
}
