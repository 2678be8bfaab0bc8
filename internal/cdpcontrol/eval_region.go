package cdpcontrol

// jsPickArea shows a full-viewport crosshair layer and resolves with the
// mouse-down and mouse-up points of one drag. Escape rejects the pick.
func jsPickArea() string {
	return wrapJSEvalAsync(`
if (window.__regioncapPick) { window.__regioncapPick.cancel(); }
return await new Promise(function(resolve) {
  var layer = document.createElement("div");
  layer.setAttribute("` + OverlayAttr + `", "1");
  Object.assign(layer.style, {position:"fixed", left:"0", top:"0", right:"0", bottom:"0",
    zIndex:"2147483647", cursor:"crosshair", background:"rgba(0,0,0,0.04)"});
  var box = document.createElement("div");
  Object.assign(box.style, {position:"fixed", display:"none", pointerEvents:"none",
    border:"2px dashed #3b82f6", background:"rgba(59,130,246,0.12)"});
  layer.appendChild(box);
  var x0 = 0, y0 = 0, dragging = false;
  function finish(payload) {
    window.removeEventListener("keydown", onKey, true);
    layer.remove();
    window.__regioncapPick = null;
    resolve(JSON.stringify(payload));
  }
  function onKey(e) {
    if (e.key === "Escape") { e.preventDefault(); finish({ok:false, error_code:"` + CodeValidation + `", error_message:"pick cancelled"}); }
  }
  layer.addEventListener("mousedown", function(e) {
    dragging = true; x0 = e.clientX; y0 = e.clientY;
    box.style.display = "block";
    e.preventDefault();
  });
  layer.addEventListener("mousemove", function(e) {
    if (!dragging) return;
    box.style.left = Math.min(x0, e.clientX) + "px";
    box.style.top = Math.min(y0, e.clientY) + "px";
    box.style.width = Math.abs(e.clientX - x0) + "px";
    box.style.height = Math.abs(e.clientY - y0) + "px";
  });
  layer.addEventListener("mouseup", function(e) {
    if (!dragging) return;
    dragging = false;
    finish({ok:true, data:{x0:x0, y0:y0, x1:e.clientX, y1:e.clientY}});
  });
  window.addEventListener("keydown", onKey, true);
  window.__regioncapPick = {cancel: function() { finish({ok:false, error_code:"` + CodeValidation + `", error_message:"pick cancelled"}); }};
  document.documentElement.appendChild(layer);
});`)
}

// jsPickElement highlights the hovered element and resolves with the
// bounding rectangle of the clicked one.
func jsPickElement() string {
	return wrapJSEvalAsync(jsOverlayHelper + jsRectHelper + `
if (window.__regioncapPick) { window.__regioncapPick.cancel(); }
return await new Promise(function(resolve) {
  var hl = document.createElement("div");
  hl.setAttribute("` + OverlayAttr + `", "1");
  Object.assign(hl.style, {position:"fixed", pointerEvents:"none", zIndex:"2147483647",
    border:"2px solid #3b82f6", background:"rgba(59,130,246,0.12)", display:"none"});
  document.documentElement.appendChild(hl);
  function onMove(e) {
    var el = e.target;
    if (!el || _isOverlay(el) || !el.getBoundingClientRect) { hl.style.display = "none"; return; }
    var r = el.getBoundingClientRect();
    Object.assign(hl.style, {display:"block", left:r.left + "px", top:r.top + "px",
      width:r.width + "px", height:r.height + "px"});
  }
  function onClick(e) {
    var el = e.target;
    if (!el || _isOverlay(el)) return;
    e.preventDefault(); e.stopPropagation();
    finish({ok:true, data:_rect(el.getBoundingClientRect())});
  }
  function onKey(e) {
    if (e.key === "Escape") { e.preventDefault(); finish({ok:false, error_code:"` + CodeValidation + `", error_message:"pick cancelled"}); }
  }
  function finish(payload) {
    window.removeEventListener("mousemove", onMove, true);
    window.removeEventListener("click", onClick, true);
    window.removeEventListener("keydown", onKey, true);
    hl.remove();
    window.__regioncapPick = null;
    resolve(JSON.stringify(payload));
  }
  window.addEventListener("mousemove", onMove, true);
  window.addEventListener("click", onClick, true);
  window.addEventListener("keydown", onKey, true);
  window.__regioncapPick = {cancel: function() { finish({ok:false, error_code:"` + CodeValidation + `", error_message:"pick cancelled"}); }};
});`)
}

func jsCancelPick() string {
	return wrapJSEval(`
if (window.__regioncapPick) { window.__regioncapPick.cancel(); }
return JSON.stringify({ok:true});`)
}

func jsViewport() string {
	return wrapJSEval(`
return JSON.stringify({ok:true, data:{
  width: window.innerWidth,
  height: window.innerHeight,
  scroll_x: window.scrollX,
  scroll_y: window.scrollY,
  device_pixel_ratio: window.devicePixelRatio || 1
}});`)
}

// jsBackgroundColor resolves the colour painted under transparent content:
// the --background custom property, then the body background, then white.
// The page's own canvas normalises the CSS colour to RGBA bytes.
func jsBackgroundColor() string {
	return wrapJSEval(`
var color = "#ffffff";
try {
  var fromVar = getComputedStyle(document.documentElement).getPropertyValue("--background").trim();
  if (fromVar) {
    color = fromVar;
  } else if (document.body) {
    var bodyBg = getComputedStyle(document.body).backgroundColor;
    if (bodyBg && bodyBg !== "rgba(0, 0, 0, 0)" && bodyBg !== "transparent") color = bodyBg;
  }
} catch (_) {}
var rgba = [255, 255, 255, 255];
try {
  var cv = document.createElement("canvas");
  cv.width = 1; cv.height = 1;
  var cx = cv.getContext("2d");
  cx.fillStyle = "#ffffff";
  cx.fillStyle = color;
  cx.fillRect(0, 0, 1, 1);
  var d = cx.getImageData(0, 0, 1, 1).data;
  rgba = [d[0], d[1], d[2], d[3]];
} catch (_) {}
return JSON.stringify({ok:true, data:{css:color, rgba:rgba}});`)
}
