// Package transfers holds the pure transfer state transitions driven by
// acknowledgement and timeout events.
package transfers

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/Cogwheel-Validator/spectra-indexer/indexer/models"
)

// timeoutError is the message recorded on timed out transfers.
const timeoutError = "Packet timed out"

// IsSuccessfulAcknowledgement inspects acknowledgement event attributes and
// reports whether the packet succeeded on the counterparty. The ack payload
// formats vary by chain version, so the check is layered: explicit error
// attributes first, then the parsed JSON body, then a substring scan when
// the body is not JSON.
func IsSuccessfulAcknowledgement(attrs map[string]string) bool {
	if _, ok := attrs["packet_ack_error"]; ok {
		return false
	}
	if _, ok := attrs["error"]; ok {
		return false
	}

	ack, ok := attrs["packet_ack"]
	if !ok {
		ack, ok = attrs["acknowledgement"]
	}
	if !ok || ack == "" {
		return true
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(ack), &body); err != nil {
		// not JSON; an error-shaped payload still means failure
		return !strings.Contains(ack, "error") && !strings.Contains(ack, "Error")
	}
	if _, hasErr := body["error"]; hasErr {
		return false
	}
	if _, hasCode := body["code"]; hasCode {
		return false
	}
	if result, ok := body["result"].(string); ok && result == "error" {
		return false
	}
	return true
}

// UpdateForAcknowledgement returns a copy of the transfer with the
// acknowledgement outcome applied: COMPLETED on success, FAILED otherwise.
func UpdateForAcknowledgement(
	t models.Transfer,
	txHash string,
	height int64,
	ts time.Time,
	ok bool,
	ackErr string,
) models.Transfer {
	if ok {
		t.Status = models.TransferCompleted
	} else {
		t.Status = models.TransferFailed
	}
	t.Success = ok
	t.CompletionTxHash = txHash
	t.CompletionHeight = height
	t.CompletionTimestamp = &ts
	t.CompleteTime = &ts
	if ackErr != "" {
		t.Error = ackErr
	}
	t.UpdatedAt = ts
	return t
}

// UpdateForTimeout returns a copy of the transfer marked as timed out.
func UpdateForTimeout(t models.Transfer, txHash string, height int64, ts time.Time) models.Transfer {
	t.Status = models.TransferTimeout
	t.Success = false
	t.TimeoutTxHash = txHash
	t.TimeoutHeight = height
	t.TimeoutTimestamp = &ts
	t.Error = timeoutError
	t.UpdatedAt = ts
	return t
}
