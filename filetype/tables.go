package filetype

type extEntry struct {
	kind SemanticType
	mime string
}

// knownNames maps lowercase extensionless file names to their type.
var knownNames = map[string]SemanticType{
	"dockerfile":   Text,
	"makefile":     Text,
	"gnumakefile":  Text,
	"readme":       Text,
	"license":      Text,
	"licence":      Text,
	"copying":      Text,
	"authors":      Text,
	"changelog":    Text,
	"contributing": Text,
	"notice":       Text,
	"procfile":     Text,
	"gemfile":      Text,
	"rakefile":     Text,
	"vagrantfile":  Text,
	"jenkinsfile":  Text,
	"brewfile":     Text,
	"justfile":     Text,
	"codeowners":   Text,

	// Dotfiles
	".gitignore":     Text,
	".dockerignore":  Text,
	".editorconfig":  Text,
	".gitattributes": Text,
}

// extensions maps lowercase extensions to their type and MIME tag.
var extensions = map[string]extEntry{
	// Text and source code
	"txt":        {Text, "text/plain"},
	"md":         {Text, "text/markdown"},
	"markdown":   {Text, "text/markdown"},
	"rst":        {Text, "text/x-rst"},
	"adoc":       {Text, "text/asciidoc"},
	"csv":        {Text, "text/csv"},
	"tsv":        {Text, "text/tab-separated-values"},
	"log":        {Text, "text/plain"},
	"json":       {Text, "application/json"},
	"jsonc":      {Text, "application/json"},
	"jsonl":      {Text, "application/jsonl"},
	"yaml":       {Text, "application/yaml"},
	"yml":        {Text, "application/yaml"},
	"toml":       {Text, "application/toml"},
	"ini":        {Text, "text/plain"},
	"cfg":        {Text, "text/plain"},
	"conf":       {Text, "text/plain"},
	"xml":        {Text, "application/xml"},
	"html":       {Text, "text/html"},
	"htm":        {Text, "text/html"},
	"css":        {Text, "text/css"},
	"scss":       {Text, "text/x-scss"},
	"less":       {Text, "text/x-less"},
	"js":         {Text, "text/javascript"},
	"mjs":        {Text, "text/javascript"},
	"cjs":        {Text, "text/javascript"},
	"jsx":        {Text, "text/javascript"},
	"ts":         {Text, "text/x-typescript"},
	"tsx":        {Text, "text/x-typescript"},
	"go":         {Text, "text/x-go"},
	"mod":        {Text, "text/plain"},
	"sum":        {Text, "text/plain"},
	"py":         {Text, "text/x-python"},
	"rb":         {Text, "text/x-ruby"},
	"rs":         {Text, "text/x-rust"},
	"java":       {Text, "text/x-java"},
	"kt":         {Text, "text/x-kotlin"},
	"swift":      {Text, "text/x-swift"},
	"c":          {Text, "text/x-c"},
	"h":          {Text, "text/x-c"},
	"cc":         {Text, "text/x-c++"},
	"cpp":        {Text, "text/x-c++"},
	"hpp":        {Text, "text/x-c++"},
	"cs":         {Text, "text/x-csharp"},
	"php":        {Text, "text/x-php"},
	"sh":         {Text, "text/x-shellscript"},
	"bash":       {Text, "text/x-shellscript"},
	"zsh":        {Text, "text/x-shellscript"},
	"ps1":        {Text, "text/plain"},
	"sql":        {Text, "application/sql"},
	"graphql":    {Text, "application/graphql"},
	"proto":      {Text, "text/plain"},
	"tf":         {Text, "text/plain"},
	"lua":        {Text, "text/x-lua"},
	"vue":        {Text, "text/plain"},
	"svelte":     {Text, "text/plain"},
	"tex":        {Text, "text/x-tex"},
	"diff":       {Text, "text/x-diff"},
	"patch":      {Text, "text/x-diff"},
	"svg":        {Text, "image/svg+xml"},
	"prompt":     {Text, "text/plain"},
	"tmpl":       {Text, "text/plain"},
	"dockerfile": {Text, "text/plain"},
	"env":        {Text, "text/plain"},

	// Images
	"png":  {Image, "image/png"},
	"jpg":  {Image, "image/jpeg"},
	"jpeg": {Image, "image/jpeg"},
	"gif":  {Image, "image/gif"},
	"webp": {Image, "image/webp"},
	"bmp":  {Image, "image/bmp"},
	"ico":  {Image, "image/x-icon"},
	"tif":  {Image, "image/tiff"},
	"tiff": {Image, "image/tiff"},
	"heic": {Image, "image/heic"},

	// Documents
	"pdf": {PDF, "application/pdf"},

	// Archives
	"zip": {Binary, "application/zip"},
	"tar": {Binary, "application/x-tar"},
	"gz":  {Binary, "application/gzip"},
	"tgz": {Binary, "application/gzip"},
	"bz2": {Binary, "application/x-bzip2"},
	"xz":  {Binary, "application/x-xz"},
	"zst": {Binary, "application/zstd"},
	"7z":  {Binary, "application/x-7z-compressed"},
	"rar": {Binary, "application/vnd.rar"},
	"jar": {Binary, "application/java-archive"},

	// Video and audio
	"mp4":  {Binary, "video/mp4"},
	"mov":  {Binary, "video/quicktime"},
	"avi":  {Binary, "video/x-msvideo"},
	"mkv":  {Binary, "video/x-matroska"},
	"webm": {Binary, "video/webm"},
	"mp3":  {Binary, "audio/mpeg"},
	"wav":  {Binary, "audio/wav"},
	"flac": {Binary, "audio/flac"},
	"ogg":  {Binary, "audio/ogg"},
	"m4a":  {Binary, "audio/mp4"},

	// Fonts
	"ttf":   {Binary, "font/ttf"},
	"otf":   {Binary, "font/otf"},
	"woff":  {Binary, "font/woff"},
	"woff2": {Binary, "font/woff2"},
	"eot":   {Binary, "application/vnd.ms-fontobject"},

	// Executables and object files
	"exe":   {Binary, "application/x-msdownload"},
	"dll":   {Binary, "application/x-msdownload"},
	"so":    {Binary, "application/x-sharedlib"},
	"dylib": {Binary, "application/x-mach-binary"},
	"bin":   {Binary, "application/octet-stream"},
	"o":     {Binary, "application/x-object"},
	"a":     {Binary, "application/x-archive"},
	"class": {Binary, "application/java-vm"},
	"pyc":   {Binary, "application/x-python-code"},
	"wasm":  {Binary, "application/wasm"},
	"dmg":   {Binary, "application/x-apple-diskimage"},
	"iso":   {Binary, "application/x-iso9660-image"},
	"deb":   {Binary, "application/vnd.debian.binary-package"},
	"rpm":   {Binary, "application/x-rpm"},
	"msi":   {Binary, "application/x-msi"},

	// Data blobs
	"db":      {Binary, "application/x-sqlite3"},
	"sqlite":  {Binary, "application/x-sqlite3"},
	"parquet": {Binary, "application/vnd.apache.parquet"},
	"pkl":     {Binary, "application/octet-stream"},
	"npy":     {Binary, "application/octet-stream"},
}
