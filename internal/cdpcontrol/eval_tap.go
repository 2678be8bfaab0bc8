package cdpcontrol

// jsInstallTap attaches capture-phase listeners that forward pointer moves,
// clicks, key presses and selection changes to the named CDP binding.
// Pointer moves are coalesced to one emit per animation frame.
func jsInstallTap(binding string) string {
	return wrapJSEval(jsOverlayHelper + `
var name = ` + jsString(binding) + `;
if (window.__regioncapTap) { window.__regioncapTap.remove(); }
function emit(o) {
  try { if (typeof window[name] === "function") window[name](JSON.stringify(o)); } catch (_) {}
}
var pending = null, scheduled = false;
function onMove(e) {
  pending = {type:"move", x:e.clientX, y:e.clientY};
  if (scheduled) return;
  scheduled = true;
  requestAnimationFrame(function() { scheduled = false; if (pending) { emit(pending); pending = null; } });
}
function describe(el) {
  var out = {tag:el.tagName.toLowerCase()};
  out.role = el.getAttribute("role") || "";
  out.id = el.id || "";
  out.name = el.getAttribute("name") || "";
  out.title = el.getAttribute("title") || "";
  out.aria_label = el.getAttribute("aria-label") || "";
  var ref = el.getAttribute("aria-labelledby");
  if (ref) {
    var parts = [];
    var ids = ref.split(/\s+/g);
    for (var i = 0; i < ids.length; i++) {
      var n = ids[i] ? document.getElementById(ids[i]) : null;
      var t = n ? (n.textContent || "").trim() : "";
      if (t) parts.push(t);
    }
    out.labelled_by_text = parts.join(" ");
  }
  out.text = String(el.innerText || el.textContent || "");
  if (out.tag === "input") out.value = String(el.value || "");
  return out;
}
function onClick(e) {
  var el = e.target;
  var evt = {type:"click", x:e.clientX, y:e.clientY};
  try {
    if (el && el.nodeType !== 1) el = el.parentElement;
    if (el && _isOverlay(el)) {
      evt.ignored = true;
    } else if (el) {
      var sel = 'button, a, [role="button"], input, [onclick]';
      var hit = el.matches && el.matches(sel) ? el : (el.closest ? el.closest(sel) : null);
      if (hit) evt.target = describe(hit);
    }
  } catch (_) {}
  emit(evt);
}
function onKey(e) { emit({type:"key", key:String(e.key)}); }
function onSelect() { emit({type:"selection"}); }
window.addEventListener("pointermove", onMove, true);
window.addEventListener("click", onClick, true);
window.addEventListener("keydown", onKey, true);
document.addEventListener("selectionchange", onSelect, true);
window.__regioncapTap = {remove: function() {
  window.removeEventListener("pointermove", onMove, true);
  window.removeEventListener("click", onClick, true);
  window.removeEventListener("keydown", onKey, true);
  document.removeEventListener("selectionchange", onSelect, true);
  window.__regioncapTap = null;
}};
return JSON.stringify({ok:true});`)
}

func jsRemoveTap() string {
	return wrapJSEval(`
if (window.__regioncapTap) { window.__regioncapTap.remove(); }
return JSON.stringify({ok:true});`)
}
