package log

const (
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	FieldUserID  = "user_id"
	FieldService = "service"

	FieldRoomID  = "room_id"
	FieldConnID  = "conn_id"
	FieldGroup   = "group"
	FieldBatch   = "batch_size"
	FieldDriver  = "driver"
	FieldSubject = "subject"
)
