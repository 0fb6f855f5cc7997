package safety

// Reason codes for pattern-based rejections.
const (
	reasonTooLong    = "too_long"
	reasonInjection  = "prompt_injection"
	reasonRepetition = "repetition"
	reasonUnicode    = "unicode_abuse"
)

// rejectionMessages holds the localized user-facing text per category or
// reason code. Unknown locales fall back to English.
var rejectionMessages = map[string]map[string]string{
	"en": {
		reasonTooLong:            "Your message is too long. Please shorten it and try again.",
		CategoryPromptInjection:  "Your message looks like an attempt to manipulate the assistant and was blocked.",
		reasonRepetition:         "Your message contains excessive repetition and was blocked.",
		reasonUnicode:            "Your message contains invalid or invisible characters and was blocked.",
		CategoryMedicalAdvice:    "The response was withheld because it contained medical advice.",
		CategoryFinancialAdvice:  "The response was withheld because it contained financial advice.",
		CategoryLegalAdvice:      "The response was withheld because it contained legal advice.",
		CategoryProductMarketing: "The response was withheld because it contained promotional content.",
		CategoryHarmfulContent:   "The response was withheld because it may be harmful.",
		CategoryAdultContent:     "The response was withheld because it contained adult content.",
		CategoryGambling:         "The response was withheld because it contained gambling content.",
		CategoryDrugs:            "The response was withheld because it referenced illegal drugs.",
	},
	"vi": {
		reasonTooLong:            "Tin nhắn của bạn quá dài. Vui lòng rút gọn và thử lại.",
		CategoryPromptInjection:  "Tin nhắn của bạn có dấu hiệu thao túng trợ lý nên đã bị chặn.",
		reasonRepetition:         "Tin nhắn của bạn lặp lại quá nhiều nên đã bị chặn.",
		reasonUnicode:            "Tin nhắn của bạn chứa ký tự không hợp lệ hoặc ẩn nên đã bị chặn.",
		CategoryMedicalAdvice:    "Câu trả lời đã bị giữ lại vì chứa lời khuyên y tế.",
		CategoryFinancialAdvice:  "Câu trả lời đã bị giữ lại vì chứa lời khuyên tài chính.",
		CategoryLegalAdvice:      "Câu trả lời đã bị giữ lại vì chứa lời khuyên pháp lý.",
		CategoryProductMarketing: "Câu trả lời đã bị giữ lại vì chứa nội dung quảng cáo.",
		CategoryHarmfulContent:   "Câu trả lời đã bị giữ lại vì có thể gây hại.",
		CategoryAdultContent:     "Câu trả lời đã bị giữ lại vì chứa nội dung người lớn.",
		CategoryGambling:         "Câu trả lời đã bị giữ lại vì chứa nội dung cờ bạc.",
		CategoryDrugs:            "Câu trả lời đã bị giữ lại vì nhắc đến chất cấm.",
	},
}

// localizedMessage resolves the user-facing text for a category or reason
// code in the given locale.
func localizedMessage(locale, key string) string {
	catalog, ok := rejectionMessages[locale]
	if !ok {
		catalog = rejectionMessages["en"]
	}
	if msg, ok := catalog[key]; ok {
		return msg
	}
	return rejectionMessages["en"][CategoryHarmfulContent]
}
