package cdpcontrol

// jsScanRegion walks "body *" in document order. Zero-area and off-viewport
// elements are skipped before the computed-style read; elements that do not
// intersect the region or fail the visibility test are dropped. The walk
// stops after limit matches.
func jsScanRegion(region ViewportRect, limit, minSize int) string {
	return wrapJSEval(`
var R = ` + jsJSON(region) + `;
var limit = ` + jsJSON(limit) + `;
var minSize = ` + jsJSON(minSize) + `;
var vw = window.innerWidth, vh = window.innerHeight;
var right = R.left + R.width, bottom = R.top + R.height;
var all = document.querySelectorAll("body *");
var out = [];
for (var i = 0; i < all.length && out.length < limit; i++) {
  var el = all[i];
  var r = el.getBoundingClientRect();
  if (r.width <= 0 || r.height <= 0) continue;
  if (r.right < 0 || r.bottom < 0 || r.left > vw || r.top > vh) continue;
  if (r.right < R.left || r.bottom < R.top || r.left > right || r.top > bottom) continue;
  var cs = getComputedStyle(el);
  if (!cs || cs.visibility === "hidden" || cs.display === "none" || parseFloat(cs.opacity || "1") === 0) continue;
  if (r.width < minSize || r.height < minSize) continue;
  var item = {
    tag: el.tagName.toLowerCase(),
    id: el.id || "",
    classes: Array.prototype.slice.call(el.classList),
    role: el.getAttribute("role") || "",
    aria_label: el.getAttribute("aria-label") || "",
    text: String(el.innerText || el.textContent || ""),
    rect: {left:r.left, top:r.top, width:r.width, height:r.height},
    display: cs.display,
    visibility: cs.visibility,
    opacity: parseFloat(cs.opacity || "1")
  };
  var pe = el.parentElement;
  if (pe) {
    item.parent = {tag:pe.tagName.toLowerCase(), id:pe.id || "", classes:Array.prototype.slice.call(pe.classList)};
  }
  out.push(item);
}
return JSON.stringify({ok:true, data:{viewport_width:vw, viewport_height:vh, elements:out}});`)
}

func jsPageEnv() string {
	return wrapJSEval(`
var tz = "";
try { tz = Intl.DateTimeFormat().resolvedOptions().timeZone || ""; } catch (_) {}
return JSON.stringify({ok:true, data:{
  user_agent: navigator.userAgent,
  language: navigator.language,
  languages: Array.prototype.slice.call(navigator.languages || []),
  platform: navigator.platform,
  timezone: tz,
  viewport: {width:window.innerWidth, height:window.innerHeight, device_pixel_ratio:window.devicePixelRatio || 1},
  screen: {width:screen.width, height:screen.height, avail_width:screen.availWidth, avail_height:screen.availHeight},
  page_url: location.href,
  referrer: document.referrer,
  timestamp: new Date().toISOString()
}});`)
}
