package logger

// RedactPhone masks a phone number for safe logging, keeping only the
// last four digits: "+5511987654321" → "***4321"
// Short values (≤4 chars) are fully masked: "123" → "***"
func RedactPhone(phone string) string {
	if len(phone) > 4 {
		return "***" + phone[len(phone)-4:]
	}
	return "***"
}
