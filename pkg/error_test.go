package pkg

import (
	"errors"
	"fmt"
	"testing"
)

func TestSentinelErrorsDistinct(t *testing.T) {
	sentinels := []error{
		ErrStall,
		ErrShutdown,
		ErrCancelled,
		ErrTimeout,
		ErrProtocol,
		ErrInvalidEndpoint,
		ErrNotConfigured,
		ErrNotSupported,
		ErrAlreadyRunning,
		ErrBufferTooSmall,
		ErrEmptySubmission,
		ErrInvalidSlot,
		ErrInvalidSlotCount,
		ErrCardPresent,
		ErrCardNotPresent,
		ErrInvalidMessageType,
		ErrMessageTooShort,
		ErrDescriptorTooShort,
		ErrDescriptorTypeMismatch,
		ErrSetupPacketTooShort,
	}

	for i, a := range sentinels {
		if a == nil {
			t.Fatalf("sentinel %d is nil", i)
		}
		if a.Error() == "" {
			t.Errorf("sentinel %d has empty message", i)
		}
		for j, b := range sentinels {
			if i != j && errors.Is(a, b) {
				t.Errorf("sentinels %d and %d are not distinct: %v / %v", i, j, a, b)
			}
		}
	}
}

func TestSentinelErrorsWrap(t *testing.T) {
	wrapped := fmt.Errorf("slot 3: %w", ErrCardNotPresent)
	if !errors.Is(wrapped, ErrCardNotPresent) {
		t.Errorf("errors.Is failed to match wrapped sentinel: %v", wrapped)
	}
	if errors.Is(wrapped, ErrCardPresent) {
		t.Errorf("errors.Is matched the wrong sentinel: %v", wrapped)
	}
}
