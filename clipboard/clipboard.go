package clipboard

import (
	"errors"
	"fmt"

	cb "github.com/atotto/clipboard"
)

// ErrUnsupported is returned when no clipboard utility is available, e.g.
// a Linux session without xclip, xsel or wl-clipboard.
var ErrUnsupported = errors.New("clipboard unavailable")

func Supported() bool { return !cb.Unsupported }

func Read() (string, error) {
	if cb.Unsupported {
		return "", ErrUnsupported
	}
	return cb.ReadAll()
}

func Copy(text string) error {
	if cb.Unsupported {
		return ErrUnsupported
	}
	if err := cb.WriteAll(text); err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	return nil
}
