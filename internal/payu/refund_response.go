package payu

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// refundResponse mirrors the gateway's refund reply. transaction_details is
// keyed by the mihpayid of the refunded transaction.
type refundResponse struct {
	Msg                string                       `json:"msg"`
	TransactionDetails map[string]refundTransaction `json:"transaction_details"`
}

type refundTransaction struct {
	RefundID  string `json:"refund_id"`
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

func parseRefundResponse(body io.Reader) (RefundResult, error) {
	var resp refundResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return RefundResult{}, fmt.Errorf("parse refund response: %w", err)
	}

	result := RefundResult{Message: resp.Msg}

	if len(resp.TransactionDetails) == 0 {
		result.Status = "failed"
		return result, nil
	}

	for mihPayID, tx := range resp.TransactionDetails {
		result.MihPayID = mihPayID
		result.RefundID = tx.RefundID
		result.RequestID = tx.RequestID
		result.Status = tx.Status
		if result.Status == "" {
			result.Status = "failed"
		}
		break
	}

	result.Success = strings.EqualFold(result.Status, "success")
	return result, nil
}
