// Package logger wraps zap for the wits command line tool:
//   - a global sugared logger with a console encoder,
//   - context helpers (ToContext/FromContext/WithName/WithKV),
//   - level parsing for the --log-level flag and WITS_LOG_LEVEL,
//   - convenience functions (Infof, ErrorKV, etc.).
//
// Services receive a context and pull the logger out of it, so every build
// and device session logs under its own name.
package logger
