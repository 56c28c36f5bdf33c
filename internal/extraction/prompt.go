package extraction

// invoicePrompt is shared by every vision backend. It asks for the nested
// response shape; the normalizer also accepts the flat one, which some
// models fall back to.
const invoicePrompt = `You are an expert invoice data extraction system. Carefully read all text in the image and extract the following fields:

1. Invoice number (e.g. INV-2024-001, #12345)
2. Invoice date and due date, in YYYY-MM-DD format when the date is unambiguous
3. Vendor/supplier name and address
4. Customer (bill to) name and address
5. Every line item with description, quantity, unit price and line total
6. Subtotal (before tax), tax/GST amount, discount and grand total
7. Currency as an ISO 4217 code (e.g. INR, USD)
8. Payment terms

Return ONLY valid JSON in this exact format:
{
  "invoice_number": "string or null",
  "invoice_date": "YYYY-MM-DD or null",
  "due_date": "YYYY-MM-DD or null",
  "vendor": {"name": "string or null", "address": "string or null"},
  "customer": {"name": "string or null", "address": "string or null"},
  "items": [
    {"description": "string", "quantity": 0, "unit_price": 0.00, "total": 0.00}
  ],
  "subtotal": 0.00,
  "tax_amount": 0.00,
  "discount": 0.00,
  "total": 0.00,
  "currency": "string",
  "payment_terms": "string or null"
}

Important:
- Amounts must be numbers, not strings, without currency symbols or thousands separators
- If you cannot find a field, use null for that field
- Include every line item you can read
- Do not include any text before or after the JSON
- Do not use markdown code blocks`
