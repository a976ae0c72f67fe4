package schema

// Button is the outcome a user picked in a dialog.
type Button string

const (
	ButtonOK      Button = "ok"
	ButtonCancel  Button = "cancel"
	ButtonDismiss Button = "dismiss"
)

// Confirmed reports whether b accepts the dialog's result.
func (b Button) Confirmed() bool {
	return b == ButtonOK
}

// DialogRequest asks the host to open a modal interaction. Callback
// receives the button and the dialog's result once it closes.
type DialogRequest struct {
	Kind     string            `json:"kind"`
	Params   map[string]any    `json:"params,omitempty"`
	Callback func(Button, any) `json:"-"`
}

// OnConfirm returns a dialog callback that writes the converted result to
// path, but only for a confirmed button. convert may reject a result by
// returning false.
func OnConfirm(update UpdateFunc, path string, convert func(any) (any, bool)) func(Button, any) {
	return func(b Button, result any) {
		if !b.Confirmed() {
			return
		}
		v := result
		if convert != nil {
			var ok bool
			if v, ok = convert(result); !ok {
				return
			}
		}
		update(Change{Path: path, Value: v})
	}
}
