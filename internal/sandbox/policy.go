package sandbox

// IframeSandbox is the sandbox attribute the shell puts on the preview frame:
// scripts run, but the frame has an opaque origin with no access to the
// shell's DOM, storage or cookies.
const IframeSandbox = "allow-scripts"

// ContentSecurityPolicy is sent with every preview document so the same
// isolation applies when the document is opened directly.
const ContentSecurityPolicy = "sandbox allow-scripts; default-src 'none'; " +
	"script-src 'unsafe-inline'; style-src 'unsafe-inline'; " +
	"img-src data: blob:; font-src data:; frame-ancestors 'self'"
