package store

// URLSigner re-signs a file's retrieval URL using current storage credentials.
// Implemented by the file storage provider (an external collaborator, §1).
type URLSigner func(fileID string) (string, error)

// RegenerateImageURLs returns a copy of parts with every ImageFilePointer's URL
// re-signed via sign. Used before returning messages to clients, since signed
// URLs expire independently of message content (spec §4.1).
func RegenerateImageURLs(parts ContentParts, sign URLSigner) (ContentParts, error) {
	out := make(ContentParts, len(parts))
	for i, p := range parts {
		ptr, ok := p.(ImageFilePointer)
		if !ok {
			out[i] = p
			continue
		}
		url, err := sign(ptr.FileID)
		if err != nil {
			return nil, err
		}
		out[i] = ImageFilePointer{FileID: ptr.FileID, URL: url}
	}
	return out, nil
}
