package response

// Response represents a standard API response format
type Response struct {
	Success    bool        `json:"success"`
	StatusCode int         `json:"status_code"`
	Message    string      `json:"message,omitempty"`
	Data       interface{} `json:"data,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// Page is the data payload of list endpoints
type Page struct {
	Items interface{} `json:"items"`
	Total int64       `json:"total"`
	Page  int         `json:"page"`
	Limit int         `json:"limit"`
}

// Success returns a standard success response wrapping the data
func Success(statusCode int, data interface{}) Response {
	return Response{
		Success:    true,
		StatusCode: statusCode,
		Data:       data,
	}
}

// SuccessWithMessage is Success plus a human readable note, e.g. when a delete became a cancel
func SuccessWithMessage(statusCode int, message string, data interface{}) Response {
	return Response{
		Success:    true,
		StatusCode: statusCode,
		Message:    message,
		Data:       data,
	}
}

// Error returns a standard error response wrapping the error message
func Error(statusCode int, err string) Response {
	return Response{
		Success:    false,
		StatusCode: statusCode,
		Error:      err,
	}
}
