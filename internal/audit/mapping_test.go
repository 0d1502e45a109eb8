package audit

import "testing"

func TestParseFullMethod(t *testing.T) {
	tests := []struct {
		fullMethod string
		action     string
		resource   string
	}{
		{"/securepay.payment.v1.PaymentService/CreatePayment", "create", "payment"},
		{"/securepay.payment.v1.PaymentService/GetPayment", "get", "payment"},
		{"/securepay.payment.v1.PaymentService/ListPayments", "list", "payment"},
		{"/securepay.payment.v1.PaymentService/AuthorizePayment", "authorize", "payment"},
		{"/securepay.payment.v1.PaymentService/CapturePayment", "capture", "payment"},
		{"/securepay.payment.v1.PaymentService/RefundPayment", "refund", "payment"},
		{"/securepay.payment.v1.PaymentService/FailPayment", "fail", "payment"},
		{"/securepay.auth.v1.AuthService/Login", "login", "auth"},
		{"/securepay.auth.v1.AuthService/Logout", "logout", "auth"},
		{"/securepay.auth.v1.AuthService/LogoutAll", "logout_all", "auth"},
		{"/securepay.auth.v1.AuthService/Refresh", "refresh", "auth"},
		{"/securepay.auth.v1.AuthService/Get", "get", "auth"},
		{"/securepay.auth.v1.AuthService/Ping", "ping", "auth"},
		{"/NoDots/Method", "method", "unknown"},
		{"/securepay.v1.Service/Get", "get", "unknown"},
		{"no-slash", "unknown", "unknown"},
	}
	for _, tc := range tests {
		ar := ParseFullMethod(tc.fullMethod)
		if ar.Action != tc.action || ar.Resource != tc.resource {
			t.Errorf("ParseFullMethod(%q) = %+v, want %s/%s", tc.fullMethod, ar, tc.action, tc.resource)
		}
	}
}
