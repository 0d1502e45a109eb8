package audit

import "strings"

// ActionResource holds action and resource derived from a gRPC full method name.
type ActionResource struct {
	Action   string
	Resource string
}

// ParseFullMethod returns action and resource for a gRPC full method
// (e.g. /securepay.payment.v1.PaymentService/CapturePayment -> capture, payment).
// Action is the leading verb of the method name in lower case; resource is derived from the service name.
func ParseFullMethod(fullMethod string) ActionResource {
	// fullMethod format: /securepay.package.v1.ServiceName/MethodName
	slash := strings.LastIndex(fullMethod, "/")
	if slash < 0 {
		return ActionResource{Action: "unknown", Resource: "unknown"}
	}
	method := fullMethod[slash+1:]
	beforeSlash := fullMethod[:slash]
	dot := strings.LastIndex(beforeSlash, ".")
	if dot < 0 {
		return ActionResource{Action: strings.ToLower(method), Resource: "unknown"}
	}
	serviceName := beforeSlash[dot+1:]
	return ActionResource{Action: methodToAction(method), Resource: serviceToResource(serviceName)}
}

func serviceToResource(serviceName string) string {
	// PaymentService -> payment, AuthService -> auth
	s := strings.TrimSuffix(serviceName, "Service")
	if s == "" {
		return "unknown"
	}
	return strings.ToLower(s[0:1]) + s[1:]
}

// verbs are matched as method-name prefixes, longest first where one is a prefix of another.
var verbs = []string{
	"LogoutAll", "Logout", "Login", "Register", "Refresh",
	"Create", "Get", "List", "Authorize", "Capture", "Refund", "Fail",
}

func methodToAction(method string) string {
	for _, v := range verbs {
		if strings.HasPrefix(method, v) {
			return camelToSnake(v)
		}
	}
	return strings.ToLower(method)
}

func camelToSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte('_')
		}
		b.WriteRune(r)
	}
	return strings.ToLower(b.String())
}
