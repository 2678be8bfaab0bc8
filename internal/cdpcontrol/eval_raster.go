package cdpcontrol

// jsReadFormControls reads the live state of every form control in document
// order. Nothing in the live DOM is modified.
func jsReadFormControls() string {
	return wrapJSEval(`
var els = document.querySelectorAll(` + jsFormControlsSelector + `);
var out = [];
for (var i = 0; i < els.length; i++) {
  var el = els[i];
  var tag = el.tagName.toLowerCase();
  if (tag === "input") {
    out.push({index:i, kind:"input", type:String(el.type || "text").toLowerCase(), value:String(el.value || ""), checked:!!el.checked});
  } else if (tag === "textarea") {
    out.push({index:i, kind:"textarea", value:String(el.value || "")});
  } else if (tag === "select") {
    var vals = [];
    for (var j = 0; j < el.selectedOptions.length; j++) vals.push(el.selectedOptions[j].value);
    out.push({index:i, kind:"select", values:vals});
  }
}
return JSON.stringify({ok:true, data:out});`)
}

// jsApplyFormHelper provides _applyForm(root, patches). The clone is
// serialized to markup, so every property is mirrored into its attribute.
const jsApplyFormHelper = `
function _applyForm(root, patches) {
  var ctl = root.querySelectorAll(` + jsFormControlsSelector + `);
  for (var i = 0; i < patches.length; i++) {
    var p = patches[i];
    var el = ctl[p.index];
    if (!el || el.tagName.toLowerCase() !== p.kind) continue;
    if (p.kind === "select") {
      var want = p.selected || [];
      for (var j = 0; j < el.options.length; j++) {
        var o = el.options[j];
        var on = want.indexOf(o.value) >= 0;
        o.selected = on;
        if (on) o.setAttribute("selected", ""); else o.removeAttribute("selected");
      }
      continue;
    }
    if (typeof p.checked === "boolean") {
      el.checked = p.checked;
      if (p.checked) el.setAttribute("checked", ""); else el.removeAttribute("checked");
    }
    if (typeof p.value === "string") {
      el.value = p.value;
      el.setAttribute("value", p.value);
    }
    if (typeof p.text === "string") {
      el.value = p.text;
      el.textContent = p.text;
    }
  }
}
`

// jsHideExcludedHelper provides _hideExcluded(root, exclude): iframes,
// recorder chrome and the caller's excluded elements keep their layout box
// but paint nothing.
const jsHideExcludedHelper = `
function _hideExcluded(root, exclude) {
  var sel = 'iframe, [` + OverlayAttr + `="1"]';
  var nodes = [];
  try { nodes = root.querySelectorAll(exclude ? sel + ", " + exclude : sel); }
  catch (_) { nodes = root.querySelectorAll(sel); }
  for (var i = 0; i < nodes.length; i++) {
    nodes[i].style.setProperty("visibility", "hidden", "important");
    var kids = nodes[i].querySelectorAll("*");
    for (var k = 0; k < kids.length; k++) kids[k].style.setProperty("visibility", "hidden", "important");
  }
}
`

// jsRenderForeignObject clones the document, patches form state into the
// clone, and paints the (sx, sy, sw, sh) document rectangle through an SVG
// foreignObject. The PNG keeps transparency so the caller can judge it.
func jsRenderForeignObject(p RasterParams) string {
	return wrapJSEvalAsync(jsApplyFormHelper + jsHideExcludedHelper + `
var p = ` + jsJSON(p) + `;
var live = document.documentElement;
var root = live.cloneNode(true);
_applyForm(root, p.form || []);
_hideExcluded(root, p.exclude || "");
var drop = root.querySelectorAll("script, noscript, link[rel~='stylesheet']");
for (var d = 0; d < drop.length; d++) drop[d].remove();
var css = "";
for (var s = 0; s < document.styleSheets.length; s++) {
  try {
    var rules = document.styleSheets[s].cssRules;
    for (var r = 0; r < rules.length; r++) css += rules[r].cssText + "\n";
  } catch (_) {}
}
var style = document.createElement("style");
style.textContent = css;
var head = root.querySelector("head");
if (head) head.appendChild(style); else root.insertBefore(style, root.firstChild);
root.setAttribute("xmlns", "http://www.w3.org/1999/xhtml");
root.style.width = live.clientWidth + "px";
var docW = Math.max(live.scrollWidth, window.innerWidth);
var docH = Math.max(live.scrollHeight, window.innerHeight);
var markup = new XMLSerializer().serializeToString(root);
var svg = '<svg xmlns="http://www.w3.org/2000/svg" width="' + p.sw + '" height="' + p.sh + '">' +
  '<foreignObject x="' + (-p.sx) + '" y="' + (-p.sy) + '" width="' + docW + '" height="' + docH + '">' +
  markup + '</foreignObject></svg>';
var img = new Image();
await new Promise(function(resolve, reject) {
  img.onload = resolve;
  img.onerror = function() { reject(new Error("foreignObject image failed to load")); };
  img.src = "data:image/svg+xml;charset=utf-8," + encodeURIComponent(svg);
});
var canvas = document.createElement("canvas");
canvas.width = p.sw;
canvas.height = p.sh;
var ctx = canvas.getContext("2d");
if (!ctx) {
  return JSON.stringify({ok:false, error_code:"` + CodeRasterUnavailable + `", error_message:"2d context unavailable"});
}
ctx.drawImage(img, 0, 0);
var url = canvas.toDataURL("image/png");
return JSON.stringify({ok:true, data:url.slice(url.indexOf(",") + 1)});`)
}

const hideStyleID = "__regioncap_hide"

// jsInstallHideStyle hides excluded elements in the live page for the
// duration of one compositor capture.
func jsInstallHideStyle(exclude string) string {
	return wrapJSEval(`
var sel = 'iframe, [` + OverlayAttr + `="1"], [` + OverlayAttr + `="1"] *';
var extra = ` + jsString(exclude) + `;
if (extra) {
  try { document.querySelector(extra); sel += ", " + extra + ", " + extra.split(",").map(function(x) { return x.trim() + " *"; }).join(", "); }
  catch (_) {}
}
var st = document.getElementById("` + hideStyleID + `");
if (!st) {
  st = document.createElement("style");
  st.id = "` + hideStyleID + `";
  (document.head || document.documentElement).appendChild(st);
}
st.textContent = sel + " { visibility: hidden !important; }";
return JSON.stringify({ok:true});`)
}

func jsRemoveHideStyle() string {
	return wrapJSEval(`
var st = document.getElementById("` + hideStyleID + `");
if (st) st.remove();
return JSON.stringify({ok:true});`)
}

// jsReadSelection reports the geometry of the current selection: one rect
// per client rect of every non-collapsed range, the collapsed caret, and the
// focused text field when it holds a selection.
func jsReadSelection() string {
	return wrapJSEval(jsRectHelper + `
var out = {rects:[], caret:null, input:null};
var sel = window.getSelection();
if (sel && sel.rangeCount > 0) {
  for (var i = 0; i < sel.rangeCount; i++) {
    var range = sel.getRangeAt(i);
    if (range.collapsed) continue;
    var cr = range.getClientRects();
    for (var j = 0; j < cr.length; j++) {
      if (cr[j].width <= 0 || cr[j].height <= 0) continue;
      out.rects.push(_rect(cr[j]));
    }
  }
  if (sel.isCollapsed && sel.focusNode) {
    var c = sel.getRangeAt(0).cloneRange();
    c.collapse(true);
    var rs = c.getClientRects();
    if (rs && rs.length > 0) {
      out.caret = {left:rs[0].left, top:rs[0].top, width:Math.max(1, rs[0].width || 1), height:Math.max(10, rs[0].height || 14)};
    }
  }
}
var ae = document.activeElement;
if (ae && (ae.tagName === "INPUT" || ae.tagName === "TEXTAREA")) {
  try {
    if (typeof ae.selectionStart === "number" && typeof ae.selectionEnd === "number" && ae.selectionStart !== ae.selectionEnd) {
      out.input = _rect(ae.getBoundingClientRect());
    }
  } catch (_) {}
}
return JSON.stringify({ok:true, data:out});`)
}
