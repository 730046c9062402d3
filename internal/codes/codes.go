package codes

// ErrorCodes maps cargo and shell exit statuses to their descriptions
var ErrorCodes = map[int]string{
	0:   "Success",
	1:   "Error",
	2:   "Invalid cargo invocation",
	101: "Build failed",
	126: "Command not executable",
	127: "Command not found",
	130: "Interrupted",
	134: "Aborted",
	137: "Killed (out of memory?)",
	139: "Segmentation fault",
	143: "Terminated",
}

// IsSuccess returns true if the exit code indicates a successful build
func IsSuccess(code int) bool {
	return code == 0
}

// GetErrorMessage returns the error message for a given exit code, or a generic message if unknown
func GetErrorMessage(code int) string {
	if msg, ok := ErrorCodes[code]; ok {
		return msg
	}

	return "Unknown error"
}
