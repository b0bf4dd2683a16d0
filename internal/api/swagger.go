package api

import (
    "encoding/base64"
    "encoding/json"
    "net/http"

    yaml "gopkg.in/yaml.v3"
)

// openAPIJSON converts the YAML document to JSON.
func openAPIJSON() ([]byte, error) {
    data, err := openAPILoad()
    if err != nil { return nil, err }
    var obj map[string]any
    if err := yaml.Unmarshal(data, &obj); err != nil { return nil, err }
    return json.Marshal(obj)
}

// OpenAPIJSONHandler serves the OpenAPI document as JSON.
func (s *Server) OpenAPIJSONHandler(w http.ResponseWriter, r *http.Request) {
    js, err := openAPIJSON()
    if err != nil { writeProblem(w, 500, "OpenAPI parse failed", err.Error(), r.URL.Path); return }
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(200)
    _, _ = w.Write(js)
}

// SwaggerHandler serves an interactive Swagger UI with inlined spec and a tenant preset.
func (s *Server) SwaggerHandler(w http.ResponseWriter, r *http.Request) {
    js, err := openAPIJSON()
    if err != nil { writeProblem(w, 500, "OpenAPI parse failed", err.Error(), r.URL.Path); return }
    b64 := base64.StdEncoding.EncodeToString(js)
    html := `<!DOCTYPE html><html lang="en"><head>
    <title>MCLP API Console</title>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width,initial-scale=1">
    <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui.css" />
    <style>body{margin:0} .topbar{display:none} .cfg{position:fixed;top:8px;right:8px;padding:8px;background:#fff;border:1px solid #ddd;z-index:9}</style>
    </head><body>
    <div class="cfg">
      <div><label>Tenant: <input id="tenant" value="` + defaultTenant + `"></label></div>
      <button onclick="localStorage.setItem('tenant', document.getElementById('tenant').value)">Save</button>
    </div>
    <div id="swagger-ui"></div>
    <script src="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script src="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui-standalone-preset.js"></script>
    <script>
    const spec = JSON.parse(atob('` + b64 + `'));
    const saved = localStorage.getItem('tenant');
    if (saved) document.getElementById('tenant').value = saved;
    SwaggerUIBundle({
        spec: spec,
        dom_id: '#swagger-ui',
        deepLinking: true,
        presets: [SwaggerUIBundle.presets.apis, SwaggerUIStandalonePreset],
        layout: "BaseLayout",
        requestInterceptor: (req) => {
            const t = localStorage.getItem('tenant');
            if (t) req.headers['X-Tenant-Id'] = t;
            return req;
        }
    });
    </script>
    </body></html>`
    w.Header().Set("Content-Type", "text/html; charset=utf-8")
    _, _ = w.Write([]byte(html))
}
