package cpp

// The runtime helpers injected once per artifact. The reader holds an
// immutable byte view and a position; the writer appends to a byte vector.
// Bit readers and writers are instantiated per codec invocation and flushed
// explicitly at bit region close, so no state leaks across calls and no
// byte ordering depends on destruction order.
const runtime = `class ParseError : public std::runtime_error {
public:
    explicit ParseError(const std::string& message)
        : std::runtime_error(message) {}
};

class Reader {
public:
    explicit Reader(std::span<const uint8_t> data)
        : data_(data), position_(0) {}

    template<typename T>
    T read_le(const char* field) {
        require(sizeof(T), field);
        T value = 0;
        for (size_t i = sizeof(T); i > 0; --i) {
            value = static_cast<T>((value << 8) | data_[position_ + i - 1]);
        }
        position_ += sizeof(T);
        return value;
    }

    template<typename T>
    T read_be(const char* field) {
        require(sizeof(T), field);
        T value = 0;
        for (size_t i = 0; i < sizeof(T); ++i) {
            value = static_cast<T>((value << 8) | data_[position_ + i]);
        }
        position_ += sizeof(T);
        return value;
    }

    template<typename T>
    T read_ne(const char* field) {
        require(sizeof(T), field);
        T value;
        std::memcpy(&value, &data_[position_], sizeof(T));
        position_ += sizeof(T);
        return value;
    }

    std::vector<uint8_t> read_bytes(size_t n, const char* field) {
        require(n, field);
        std::vector<uint8_t> out(data_.begin() + position_, data_.begin() + position_ + n);
        position_ += n;
        return out;
    }

    std::string read_string(size_t n, const char* field) {
        require(n, field);
        std::string out(reinterpret_cast<const char*>(&data_[position_]), n);
        position_ += n;
        return out;
    }

    std::string read_cstring(const char* field) {
        std::string out;
        for (;;) {
            uint8_t b = read_le<uint8_t>(field);
            if (b == 0) {
                break;
            }
            out.push_back(static_cast<char>(b));
        }
        return out;
    }

    void skip(size_t n, const char* field) {
        require(n, field);
        position_ += n;
    }

    void align(size_t boundary, const char* field) {
        skip((boundary - (position_ % boundary)) % boundary, field);
    }

    size_t position() const { return position_; }
    size_t remaining() const { return data_.size() - position_; }

private:
    void require(size_t n, const char* field) {
        if (position_ + n > data_.size()) {
            throw ParseError(std::string("unexpected end of data reading field '") + field + "'");
        }
    }

    std::span<const uint8_t> data_;
    size_t position_;
};

class Writer {
public:
    template<typename T>
    void write_le(T value) {
        for (size_t i = 0; i < sizeof(T); ++i) {
            data_.push_back(static_cast<uint8_t>(static_cast<std::make_unsigned_t<T>>(value) >> (i * 8)));
        }
    }

    template<typename T>
    void write_be(T value) {
        for (size_t i = sizeof(T); i > 0; --i) {
            data_.push_back(static_cast<uint8_t>(static_cast<std::make_unsigned_t<T>>(value) >> ((i - 1) * 8)));
        }
    }

    template<typename T>
    void write_ne(T value) {
        uint8_t bytes[sizeof(T)];
        std::memcpy(bytes, &value, sizeof(T));
        data_.insert(data_.end(), bytes, bytes + sizeof(T));
    }

    void write_bytes(const std::vector<uint8_t>& b) {
        data_.insert(data_.end(), b.begin(), b.end());
    }

    void write_string(const std::string& s) {
        data_.insert(data_.end(), s.begin(), s.end());
    }

    void write_string_fixed(const std::string& s, size_t n) {
        for (size_t i = 0; i < n; ++i) {
            data_.push_back(i < s.size() ? static_cast<uint8_t>(s[i]) : 0);
        }
    }

    void write_cstring(const std::string& s) {
        write_string(s);
        data_.push_back(0);
    }

    void write_padding(size_t n) {
        data_.insert(data_.end(), n, 0);
    }

    void align(size_t boundary) {
        write_padding((boundary - (data_.size() % boundary)) % boundary);
    }

    size_t position() const { return data_.size(); }
    std::vector<uint8_t> finish() { return std::move(data_); }

private:
    std::vector<uint8_t> data_;
};

class BitReader {
public:
    explicit BitReader(Reader& reader)
        : reader_(reader), current_(0), left_(0) {}

    uint8_t read_msb(size_t nbits, const char* field) {
        uint8_t out = 0;
        while (nbits > 0) {
            fill(field);
            size_t take = nbits < left_ ? nbits : left_;
            out = static_cast<uint8_t>((out << take) |
                ((current_ >> (left_ - take)) & ((1u << take) - 1)));
            left_ -= take;
            nbits -= take;
        }
        return out;
    }

    uint8_t read_lsb(size_t nbits, const char* field) {
        uint8_t out = 0;
        size_t got = 0;
        while (nbits > 0) {
            fill(field);
            size_t take = nbits < left_ ? nbits : left_;
            uint8_t bits = static_cast<uint8_t>((current_ >> (8 - left_)) & ((1u << take) - 1));
            out = static_cast<uint8_t>(out | (bits << got));
            got += take;
            left_ -= take;
            nbits -= take;
        }
        return out;
    }

    int8_t read_msb_signed(size_t nbits, const char* field) {
        return sign_extend(read_msb(nbits, field), nbits);
    }

    int8_t read_lsb_signed(size_t nbits, const char* field) {
        return sign_extend(read_lsb(nbits, field), nbits);
    }

private:
    static int8_t sign_extend(uint8_t value, size_t nbits) {
        if (value & (1u << (nbits - 1))) {
            return static_cast<int8_t>(value | ~((1u << nbits) - 1));
        }
        return static_cast<int8_t>(value);
    }

    void fill(const char* field) {
        if (left_ == 0) {
            current_ = reader_.read_le<uint8_t>(field);
            left_ = 8;
        }
    }

    Reader& reader_;
    uint8_t current_;
    size_t left_;
};

class BitWriter {
public:
    explicit BitWriter(Writer& writer, bool lsb = false)
        : writer_(writer), current_(0), used_(0), lsb_(lsb) {}

    void write_msb(uint8_t value, size_t nbits) {
        while (nbits > 0) {
            size_t take = nbits < 8 - used_ ? nbits : 8 - used_;
            uint8_t bits = static_cast<uint8_t>((value >> (nbits - take)) & ((1u << take) - 1));
            current_ = static_cast<uint8_t>((current_ << take) | bits);
            used_ += take;
            nbits -= take;
            if (used_ == 8) {
                writer_.write_le<uint8_t>(current_);
                current_ = 0;
                used_ = 0;
            }
        }
    }

    void write_lsb(uint8_t value, size_t nbits) {
        while (nbits > 0) {
            size_t take = nbits < 8 - used_ ? nbits : 8 - used_;
            uint8_t bits = static_cast<uint8_t>(value & ((1u << take) - 1));
            current_ = static_cast<uint8_t>(current_ | (bits << used_));
            used_ += take;
            value = static_cast<uint8_t>(value >> take);
            nbits -= take;
            if (used_ == 8) {
                writer_.write_le<uint8_t>(current_);
                current_ = 0;
                used_ = 0;
            }
        }
    }

    void flush() {
        if (used_ == 0) {
            return;
        }
        // zero pad the trailing partial byte
        uint8_t out = lsb_ ? current_ : static_cast<uint8_t>(current_ << (8 - used_));
        writer_.write_le<uint8_t>(out);
        current_ = 0;
        used_ = 0;
    }

    ~BitWriter() { flush(); }

private:
    Writer& writer_;
    uint8_t current_;
    size_t used_;
    bool lsb_;
};
`
