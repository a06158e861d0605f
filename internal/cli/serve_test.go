package cli

import (
	"testing"

	"go.uber.org/zap"
)

func TestCheckToken(t *testing.T) {
	log := zap.NewNop()

	if err := checkToken("secret", false, log); err != nil {
		t.Errorf("configured token refused: %v", err)
	}
	if err := checkToken("", false, log); err == nil {
		t.Error("empty token without opt-out must refuse to start")
	}
	if err := checkToken("", true, log); err != nil {
		t.Errorf("explicit --allow-no-token refused: %v", err)
	}
}
