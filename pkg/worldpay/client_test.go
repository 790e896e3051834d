package worldpay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNotification(t *testing.T) {
	body := []byte(`<?xml version="1.0"?>
<paymentService version="1.4" merchantCode="TESTMERCH">
  <reply>
    <orderStatus orderCode="ord-1">
      <payment>
        <paymentMethod>VISA-SSL</paymentMethod>
        <lastEvent>CAPTURED</lastEvent>
      </payment>
    </orderStatus>
  </reply>
</paymentService>`)

	n, err := ParseNotification(body)
	require.NoError(t, err)
	assert.Equal(t, "ord-1", n.OrderCode)
	assert.Equal(t, EventCaptured, n.LastEvent)
}

func TestParseNotificationMalformed(t *testing.T) {
	_, err := ParseNotification([]byte("<not-xml"))
	assert.ErrorIs(t, err, ErrMalformedNotification)

	// Well-formed XML that is not a notification.
	_, err = ParseNotification([]byte(`<paymentService version="1.4" merchantCode="M"><reply><ok/></reply></paymentService>`))
	assert.ErrorIs(t, err, ErrMalformedNotification)

	// An orderStatus without a payment element carries no event to apply.
	_, err = ParseNotification([]byte(`<paymentService version="1.4" merchantCode="M"><reply><orderStatus orderCode="ord-1"/></reply></paymentService>`))
	assert.ErrorIs(t, err, ErrMalformedNotification)
}

func TestClassifyEvent(t *testing.T) {
	assert.Equal(t, OutcomeAuthorised, ClassifyEvent(EventAuthorised))
	assert.Equal(t, OutcomeCaptured, ClassifyEvent(EventCaptured))
	assert.Equal(t, OutcomeCaptured, ClassifyEvent(EventSettled))
	assert.Equal(t, OutcomeCancelled, ClassifyEvent(EventExpired))
	assert.Equal(t, OutcomeRefundPending, ClassifyEvent(EventSentForRefund))
	assert.Equal(t, OutcomeUnknown, ClassifyEvent("SOMETHING_NEW"))
}
