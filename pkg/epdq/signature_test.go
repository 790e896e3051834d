package epdq

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPassphrase = "Mysecretsig1875!?"

func notificationParams() url.Values {
	p := url.Values{}
	p.Set("orderID", "order-1")
	p.Set("PAYID", "3012228")
	p.Set("STATUS", "9")
	p.Set("currency", "GBP")
	p.Set("amount", "15")
	return p
}

func TestSignVerifyRoundTrip(t *testing.T) {
	p := notificationParams()
	p.Set("SHASIGN", Sign(p, testPassphrase))
	assert.True(t, VerifySignature(p, testPassphrase))
}

func TestVerifySignatureCaseInsensitive(t *testing.T) {
	p := notificationParams()
	sig := Sign(p, testPassphrase)

	lower := notificationParams()
	lower.Set("shasign", sig)
	assert.True(t, VerifySignature(lower, testPassphrase))
}

func TestVerifySignatureTamperedParameter(t *testing.T) {
	p := notificationParams()
	p.Set("SHASIGN", Sign(p, testPassphrase))

	p.Set("amount", "1500")
	assert.False(t, VerifySignature(p, testPassphrase))
}

func TestVerifySignatureWrongPassphrase(t *testing.T) {
	p := notificationParams()
	p.Set("SHASIGN", Sign(p, testPassphrase))
	assert.False(t, VerifySignature(p, "other-passphrase"))
}

func TestVerifySignatureMissingSignature(t *testing.T) {
	assert.False(t, VerifySignature(notificationParams(), testPassphrase))
}

func TestSignSkipsEmptyParameters(t *testing.T) {
	p := notificationParams()
	withEmpty := notificationParams()
	withEmpty.Set("CN", "")
	assert.Equal(t, Sign(p, testPassphrase), Sign(withEmpty, testPassphrase))
}

func TestSignExcludesShaSignItself(t *testing.T) {
	p := notificationParams()
	expected := Sign(p, testPassphrase)
	p.Set("SHASIGN", "SOMETHING")
	assert.Equal(t, expected, Sign(p, testPassphrase))
}

func TestParseNotification(t *testing.T) {
	n, err := ParseNotification("orderID=order-1&PAYID=3012228&STATUS=9&NCERROR=0&SHASIGN=ABC")
	require.NoError(t, err)
	assert.Equal(t, "order-1", n.OrderID)
	assert.Equal(t, "3012228", n.PayID)
	assert.Equal(t, "9", n.Status)
	assert.Equal(t, "ABC", n.ShaSign)
}

func TestParseNotificationMissingFields(t *testing.T) {
	_, err := ParseNotification("orderID=order-1&STATUS=9")
	assert.ErrorIs(t, err, ErrMalformedNotification)

	_, err = ParseNotification("PAYID=3012228")
	assert.ErrorIs(t, err, ErrMalformedNotification)
}

func TestClassifyStatus(t *testing.T) {
	assert.Equal(t, OutcomeAuthorised, ClassifyStatus(StatusAuthorised))
	assert.Equal(t, OutcomeCaptured, ClassifyStatus(StatusPaymentRequested))
	assert.Equal(t, OutcomeCancelled, ClassifyStatus(StatusDeleted))
	assert.Equal(t, OutcomeRefunded, ClassifyStatus(StatusRefund))
	assert.Equal(t, OutcomeRefundRefused, ClassifyStatus(StatusRefundDeclined))
	assert.Equal(t, OutcomeUnknown, ClassifyStatus("1234"))
	assert.Equal(t, OutcomeUnknown, ClassifyStatus(""))
}
