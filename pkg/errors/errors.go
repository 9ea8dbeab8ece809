package errors

// AppErrorType categorizes an error for the response envelope's code/type
// fields.
type AppErrorType string

// BadRequestError is the only AppErrorType, used by response.BadRequest for
// unreadable or malformed request bodies. The idempotency middleware's 400s
// for a missing or oversized key carry their own IDEMPOTENCY_KEY_* codes.
const BadRequestError AppErrorType = "BAD_REQUEST_ERROR"
