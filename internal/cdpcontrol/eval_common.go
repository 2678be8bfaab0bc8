package cdpcontrol

import "encoding/json"

// OverlayAttr marks recorder chrome. Elements carrying it are never recorded
// and clicks on them never become captions.
const OverlayAttr = "data-recorder-overlay"

// jsOverlayHelper provides _isOverlay(el), true for recorder chrome and its
// descendants.
const jsOverlayHelper = `
function _isOverlay(el) {
  return !!(el && el.closest && el.closest('[` + OverlayAttr + `="1"]'));
}
`

// jsRectHelper provides _rect(r), a plain copy of a DOMRect-like object.
const jsRectHelper = `
function _rect(r) {
  return {left:r.left,top:r.top,width:r.width,height:r.height};
}
`

// jsFormControlsSelector is shared by the live read and the clone patch so
// both walk controls in the same pre-order.
const jsFormControlsSelector = `"input, textarea, select"`

func jsString(v string) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func jsJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func buildIIFE(async bool, body string) string {
	prefix := "(function(){\n"
	if async {
		prefix = "(async function(){\n"
	}
	return prefix + `try {
` + body + `
} catch (err) {
return JSON.stringify({ok:false,error_code:"` + CodeEvalFailure + `",error_message:String(err && err.message || err)});
}
})()`
}

func wrapJSEval(body string) string      { return buildIIFE(false, body) }
func wrapJSEvalAsync(body string) string { return buildIIFE(true, body) }
