package io

// IssueRecord is a row-level problem that can be written to an issues file.
// IssueFields returns values in IssueHeader order.
type IssueRecord interface {
	IssueFields() []string
}

// IssueWriter persists issues found while importing a file.
type IssueWriter interface {
	Write(issue IssueRecord) error

	// Close flushes buffered rows and releases the file. Implementations
	// should be idempotent.
	Close() error
}
