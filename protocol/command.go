package protocol

// Command names the operation a Request asks the serving peer to run.
//
// The transport treats every command as an opaque name/payload pair.
// The constants below are the names the desktop peer conventionally
// registers; anything not built in here is supplied by the host
// application when it sets up its dispatcher.
type Command string

const (
	Ping               Command = "ping"
	TakeScreenshot     Command = "take_screenshot"
	GetDOM             Command = "get_dom"
	ExecuteJS          Command = "execute_js"
	GetElementPosition Command = "get_element_position"
	SendTextInput      Command = "send_text_input"
	SimulateMouseClick Command = "simulate_mouse_click"
	ManageWindowState  Command = "manage_window_state"
	ManageLocalStorage Command = "manage_local_storage"
	GetConsoleLogs     Command = "get_console_logs"
)
