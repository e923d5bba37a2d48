package vsphere

import "fmt"

// Status messages returned by the mutating operations. Implementations share
// them so clients see the same text regardless of backend.

func CreatedMessage(name string) string {
	return fmt.Sprintf("VM '%s' created successfully.", name)
}

func ClonedMessage(templateName, newName string) string {
	return fmt.Sprintf("VM '%s' cloned from '%s' successfully.", newName, templateName)
}

func DeletedMessage(name string) string {
	return fmt.Sprintf("VM '%s' deleted.", name)
}

func PoweredOnMessage(name string, already bool) string {
	if already {
		return fmt.Sprintf("VM '%s' is already powered on.", name)
	}
	return fmt.Sprintf("VM '%s' powered on.", name)
}

func PoweredOffMessage(name string, already bool) string {
	if already {
		return fmt.Sprintf("VM '%s' is already powered off.", name)
	}
	return fmt.Sprintf("VM '%s' powered off.", name)
}

// NotFound wraps ErrNotFound with the kind and name of the missing object,
// e.g. "VM web-01 not found".
func NotFound(kind, name string) error {
	return fmt.Errorf("%s %s %w", kind, name, ErrNotFound)
}

// AlreadyExists wraps ErrAlreadyExists, e.g. "VM web-01 already exists".
func AlreadyExists(kind, name string) error {
	return fmt.Errorf("%s %s %w", kind, name, ErrAlreadyExists)
}
