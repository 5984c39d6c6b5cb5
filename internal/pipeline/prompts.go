package pipeline

// receiptPrompt instructs the model to read one tax payment receipt.
const receiptPrompt = "You read Pakistani income tax payment receipts (CPR, PSID challans and bank payment slips).\n\n" +
	"Task:\n" +
	"- Read the attached receipt.\n" +
	"- Output STRICT JSON only (no comments, no trailing commas, no extra text).\n" +
	"- Output a single JSON object.\n\n" +
	"The object must have these fields:\n" +
	"- \"amount\": number or string, the total amount paid\n" +
	"- \"currency\": string or null (e.g. \"PKR\")\n" +
	"- \"paid_on\": string or null, ISO format \"YYYY-MM-DD\"\n" +
	"- \"reference\": string, the CPR or PSID number\n" +
	"- \"bank\": string or null\n\n" +
	"Rules:\n" +
	"- If the receipt shows several amounts, use the total actually paid.\n" +
	"- If the payment date cannot be read, set \"paid_on\" to null.\n\n" +
	"Return ONLY valid raw JSON.\n" +
	"Do NOT wrap the response in code fences.\n" +
	"Output must begin with \"{\" and end with \"}\".\n"
