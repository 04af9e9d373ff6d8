package engine

import "fmt"

type LogFileAccessError string

func (msg LogFileAccessError) Error() string {
	return fmt.Sprintf("%s: log file exists but is not readable and writable", string(msg))
}

type LogFileOpenError string

func (msg LogFileOpenError) Error() string {
	return fmt.Sprintf("%s: unable to open log file", string(msg))
}
