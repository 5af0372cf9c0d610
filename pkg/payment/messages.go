package payment

import (
	"fmt"

	"github.com/corsarvpn/keyserver/pkg/messaging"
)

func adminTariffMissingMessage(paymentID, tariffID int64) messaging.Message {
	return messaging.Message{
		MediaType: messaging.MediaText,
		Text:      fmt.Sprintf("Payment %d references missing tariff %d; marked as error.", paymentID, tariffID),
	}
}

func resendMessage(uri string) messaging.Message {
	return messaging.Message{MediaType: messaging.MediaText, Text: uri}
}
