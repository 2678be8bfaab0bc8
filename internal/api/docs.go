package api

import "fmt"

const elementsVersion = "9.0.0"

// docsHTML renders the OpenAPI reference. The SSE stream is not part of the
// OpenAPI document, so it is linked separately.
var docsHTML = fmt.Sprintf(`<!doctype html>
<html lang="en" data-theme="dark">
<head>
  <meta charset="utf-8" />
  <meta name="referrer" content="same-origin" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>regioncap API</title>
  <link href="https://unpkg.com/@stoplight/elements@%[1]s/styles.min.css" rel="stylesheet" />
  <script src="https://unpkg.com/@stoplight/elements@%[1]s/web-components.min.js" crossorigin="anonymous"></script>
</head>
<body style="height: 100vh; margin: 0; display: flex; flex-direction: column;">
  <p style="margin: 0; padding: 6px 12px; font: 13px sans-serif; background: #1b1f24; color: #c9d1d9;">
    Recording lifecycle events: <a style="color: #58a6ff;" href="/api/v1/events">/api/v1/events</a> (text/event-stream)
  </p>
  <noscript><a href="%[2]s">%[2]s</a></noscript>
  <elements-api
    style="flex: 1; min-height: 0;"
    apiDescriptionUrl="%[2]s"
    router="hash"
    layout="sidebar"
    tryItCredentialsPolicy="same-origin"
    darkMode
  />
</body>
</html>`, elementsVersion, "/openapi.json")
